// Package ingest turns a document's pages into embedded, indexed chunks while
// publishing progress for polling clients.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"protoqa/internal/logger"
	"protoqa/internal/text"
	"protoqa/internal/vector"
)

var ErrNoChunks = errors.New("document produced no text chunks")

// progressEvery is the embedding-stage publish cadence in chunks.
const progressEvery = 5

type PageSource interface {
	Pages(ctx context.Context) ([]text.Page, error)
}

type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// ChunkFailure describes a chunk that exhausted its embedding retries.
type ChunkFailure struct {
	TaskID   string
	Filename string
	Chunk    text.Chunk
	Err      error
}

type FailureRecorder interface {
	RecordFailure(ctx context.Context, f ChunkFailure) error
}

// Persister is implemented by indexes that snapshot to disk.
type Persister interface {
	Persist(ctx context.Context) error
}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int
}

type Pipeline struct {
	table    *ProgressTable
	embedder Embedder
	index    vector.Index
	cfg      Config
	recorder FailureRecorder
	hooks    []CompletionHook

	runMu   sync.Mutex
	active  atomic.Int32
	current atomic.Value
	wg      sync.WaitGroup
}

type Option func(*Pipeline)

// CompletionHook observes every terminal record, completed or failed.
type CompletionHook func(ctx context.Context, rec Record)

func WithCompletionHook(h CompletionHook) Option {
	return func(p *Pipeline) { p.hooks = append(p.hooks, h) }
}

func WithFailureRecorder(r FailureRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func NewPipeline(table *ProgressTable, e Embedder, idx vector.Index, cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	p := &Pipeline{table: table, embedder: e, index: idx, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Table() *ProgressTable {
	return p.table
}

// Active reports whether a run is queued or in flight.
func (p *Pipeline) Active() bool {
	return p.active.Load() > 0
}

// Submit registers taskID and ingests it in the background. The record exists
// once Submit returns.
func (p *Pipeline) Submit(ctx context.Context, taskID, filename string, src PageSource) {
	p.table.Start(taskID, filename)
	p.active.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.active.Add(-1)
		p.run(ctx, taskID, filename, src)
	}()
}

// CurrentTask returns the task id whose chunks the index holds, or whose run
// is clearing and repopulating it. Empty before the first run.
func (p *Pipeline) CurrentTask() string {
	id, _ := p.current.Load().(string)
	return id
}

// Wait blocks until every submitted run has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Ingest runs synchronously and returns the terminal record.
func (p *Pipeline) Ingest(ctx context.Context, taskID, filename string, src PageSource) Record {
	p.table.Start(taskID, filename)
	p.active.Add(1)
	defer p.active.Add(-1)
	return p.run(ctx, taskID, filename, src)
}

func (p *Pipeline) run(ctx context.Context, taskID, filename string, src PageSource) Record {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.current.Store(taskID)

	ctx = logger.WithTaskID(ctx, taskID)
	start := time.Now()
	slog.InfoContext(ctx, "ingestion started", "filename", filename)

	rec, err := p.execute(ctx, taskID, filename, src)
	if err != nil {
		slog.ErrorContext(ctx, "ingestion failed", "error", err, "filename", filename)
		rec, _ = p.table.Update(taskID, func(r *Record) {
			r.Stage = StageFailed
			r.Progress = 0
			r.Message = "Error: " + err.Error()
			r.Error = err.Error()
			r.Completed = true
		})
		p.notify(ctx, rec)
		return rec
	}

	slog.InfoContext(ctx, "ingestion completed",
		"chunks", rec.Details.ChunksCount,
		"embedded", rec.Details.EmbeddedCount,
		"failed", rec.Details.FailedCount,
		"duration_ms", time.Since(start).Milliseconds())
	p.notify(ctx, rec)
	return rec
}

func (p *Pipeline) notify(ctx context.Context, rec Record) {
	for _, h := range p.hooks {
		h(ctx, rec)
	}
}

func (p *Pipeline) set(taskID string, stage Stage, progress int, msg string, fn func(*Details)) {
	p.table.Update(taskID, func(r *Record) {
		r.Stage = stage
		r.Progress = progress
		r.Message = msg
		if fn != nil {
			fn(&r.Details)
		}
	})
}

func (p *Pipeline) execute(ctx context.Context, taskID, filename string, src PageSource) (Record, error) {
	p.set(taskID, StageUploading, 5, fmt.Sprintf("Uploading %s...", filename), nil)

	p.set(taskID, StageExtracting, 15, "Extracting text from PDF pages...", nil)
	pages, err := src.Pages(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("extract pages: %w", err)
	}
	pagesCount := 0
	for _, pg := range pages {
		if strings.TrimSpace(pg.Text) != "" {
			pagesCount++
		}
	}
	p.set(taskID, StageExtracting, 25, fmt.Sprintf("Extracted text from %d pages", pagesCount), func(d *Details) {
		d.PagesCount = pagesCount
	})

	p.set(taskID, StageChunking, 35, "Creating text chunks with page metadata...", nil)
	chunks, err := text.BuildChunks(pages, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return Record{}, fmt.Errorf("chunk pages: %w", err)
	}
	if len(chunks) == 0 {
		return Record{}, ErrNoChunks
	}
	p.set(taskID, StageChunking, 45, fmt.Sprintf("Created %d text chunks", len(chunks)), func(d *Details) {
		d.ChunksCount = len(chunks)
	})

	p.set(taskID, StagePreparing, 50, "Preparing vector index...", nil)
	cleared, err := vector.Clear(ctx, p.index)
	if err != nil {
		return Record{}, fmt.Errorf("clear index: %w", err)
	}
	p.set(taskID, StagePreparing, 55, fmt.Sprintf("Cleared %d existing chunks", cleared), func(d *Details) {
		d.ClearedCount = cleared
	})

	p.set(taskID, StageEmbedding, 60, "Generating embeddings (this may take a few minutes)...", nil)
	failed, err := p.embedAll(ctx, taskID, filename, chunks)
	if err != nil {
		return Record{}, err
	}

	if ps, ok := p.index.(Persister); ok {
		if err := ps.Persist(ctx); err != nil {
			slog.WarnContext(ctx, "index snapshot failed", "error", err)
		}
	}

	rec, _ := p.table.Update(taskID, func(r *Record) {
		r.Stage = StageCompleted
		r.Progress = 100
		r.Message = "PDF processing completed successfully!"
		r.Completed = true
		r.Details = Details{
			Filename:      filename,
			PagesCount:    pagesCount,
			ChunksCount:   len(chunks),
			EmbeddedCount: len(chunks) - len(failed),
			FailedCount:   len(failed),
			FailedChunks:  failed,
			ClearedCount:  cleared,
		}
	})
	return rec, nil
}

// embedAll embeds and indexes every chunk. A chunk that fails is recorded
// and skipped; only a broken worker pool aborts the stage.
func (p *Pipeline) embedAll(ctx context.Context, taskID, filename string, chunks []text.Chunk) ([]string, error) {
	pool, err := ants.NewPool(p.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("embedding pool: %w", err)
	}
	defer pool.Release()

	total := len(chunks)
	failedSet := make(map[int]bool)
	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)

	for i := range chunks {
		c := chunks[i]
		idx := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			ok := p.embedChunk(ctx, taskID, filename, c)

			mu.Lock()
			defer mu.Unlock()
			if !ok {
				failedSet[idx] = true
			}
			done++
			if done%progressEvery == 0 || done == total {
				p.publishEmbedding(taskID, done, total, done-len(failedSet), c.PageNumber)
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit chunk %s: %w", c.ID, err)
		}
	}
	wg.Wait()

	var failed []string
	for i, c := range chunks {
		if failedSet[i] {
			failed = append(failed, c.ID)
		}
	}
	if len(failed) > 0 {
		slog.WarnContext(ctx, "chunks failed to embed", "count", len(failed), "chunk_ids", failed)
	}
	return failed, nil
}

func (p *Pipeline) embedChunk(ctx context.Context, taskID, filename string, c text.Chunk) bool {
	vec, err := p.embedder.EmbedDocument(ctx, c.Text)
	if err == nil {
		err = p.index.Add(ctx, []vector.Record{{
			ID:         c.ID,
			Text:       c.Text,
			Embedding:  vec,
			PageNumber: c.PageNumber,
			Source:     c.SourceLabel,
			StartPos:   c.StartOffset,
			EndPos:     c.EndOffset,
		}})
	}
	if err == nil {
		return true
	}

	slog.WarnContext(ctx, "chunk skipped", "chunk_id", c.ID, "page", c.PageNumber, "error", err)
	if p.recorder != nil {
		f := ChunkFailure{TaskID: taskID, Filename: filename, Chunk: c, Err: err}
		if rerr := p.recorder.RecordFailure(ctx, f); rerr != nil {
			slog.ErrorContext(ctx, "failed to record chunk failure", "chunk_id", c.ID, "error", rerr)
		}
	}
	return false
}

func (p *Pipeline) publishEmbedding(taskID string, done, total, embedded, page int) {
	progress := 60 + done*35/total
	p.table.Update(taskID, func(r *Record) {
		r.Stage = StageEmbedding
		r.Progress = progress
		r.Message = fmt.Sprintf("Processing embeddings: %d/%d chunks completed", done, total)
		r.Details.EmbeddedCount = embedded
		r.Details.CurrentChunkPage = page
		r.Details.PercentageComplete = fmt.Sprintf("%.1f%%", float64(done)/float64(total)*100)
	})
}
