package ingest

import (
	"sync"
	"time"
)

type Stage string

const (
	StageStarting   Stage = "starting"
	StageUploading  Stage = "uploading"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StagePreparing  Stage = "preparing"
	StageEmbedding  Stage = "embedding"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

type Details struct {
	Filename           string   `json:"filename,omitempty"`
	PagesCount         int      `json:"pages_count"`
	ChunksCount        int      `json:"chunks_count"`
	EmbeddedCount      int      `json:"embedded_count"`
	FailedCount        int      `json:"failed_count"`
	FailedChunks       []string `json:"failed_chunks,omitempty"`
	ClearedCount       int      `json:"cleared_count,omitempty"`
	CurrentChunkPage   int      `json:"current_chunk_page,omitempty"`
	PercentageComplete string   `json:"percentage_complete,omitempty"`
}

// Record is the progress of one ingestion run.
type Record struct {
	TaskID      string     `json:"task_id"`
	Stage       Stage      `json:"stage"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	Details     Details    `json:"details"`
	Completed   bool       `json:"completed"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) clone() Record {
	if r.Details.FailedChunks != nil {
		r.Details.FailedChunks = append([]string(nil), r.Details.FailedChunks...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// ProgressTable holds records by task id. Readers always get copies.
type ProgressTable struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewProgressTable() *ProgressTable {
	return &ProgressTable{records: make(map[string]*Record), now: time.Now}
}

// Start registers taskID. An existing record is left as is.
func (t *ProgressTable) Start(taskID, filename string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[taskID]; ok {
		return r.clone()
	}
	now := t.now()
	r := &Record{
		TaskID:    taskID,
		Stage:     StageStarting,
		Message:   "Starting PDF processing...",
		Details:   Details{Filename: filename},
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.records[taskID] = r
	return r.clone()
}

// Update applies fn under the table lock. Completing a record stamps
// CompletedAt once.
func (t *ProgressTable) Update(taskID string, fn func(*Record)) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[taskID]
	if !ok {
		return Record{}, false
	}
	fn(r)
	now := t.now()
	r.UpdatedAt = now
	if r.Completed && r.CompletedAt == nil {
		r.CompletedAt = &now
	}
	return r.clone(), true
}

func (t *ProgressTable) Get(taskID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[taskID]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

func (t *ProgressTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Sweep drops completed records older than retention and returns how many
// were removed. In-flight records are never swept.
func (t *ProgressTable) Sweep(retention time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-retention)
	removed := 0
	for id, r := range t.records {
		if r.Completed && r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}
