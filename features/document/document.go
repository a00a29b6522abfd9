package document

import "time"

// Document is the history row of one ingestion run.
type Document struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Filename    string    `json:"filename"`
	PagesCount  int       `json:"pages_count"`
	ChunksCount int       `json:"chunks_count"`
	FailedCount int       `json:"failed_count"`
	FileSize    int64     `json:"file_size"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
