package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"protoqa/internal/ingest"
	"protoqa/internal/middleware"
	"protoqa/internal/vector"
)

const (
	embedTimeout = 60 * time.Second

	// DefaultMaxAttempts matches the consumer's nsq.Config MaxAttempts.
	DefaultMaxAttempts = 5
)

// EmbedderConsumer re-embeds chunks replayed from the failed job table.
type EmbedderConsumer struct {
	embedder    Embedder
	store       ChunkStore
	tracker     TaskTracker
	recorder    *FailedChunkRecorder
	maxAttempts uint16
}

type ConsumerOption func(*EmbedderConsumer)

// WithTaskTracker drops replayed chunks that belong to a replaced document.
func WithTaskTracker(t TaskTracker) ConsumerOption {
	return func(h *EmbedderConsumer) { h.tracker = t }
}

// WithFailedJobs saves chunks that exhaust their attempts back to the job table.
func WithFailedJobs(r *FailedChunkRecorder, maxAttempts int) ConsumerOption {
	return func(h *EmbedderConsumer) {
		h.recorder = r
		if maxAttempts > 0 {
			h.maxAttempts = uint16(maxAttempts)
		}
	}
}

func NewEmbedderConsumer(e Embedder, s ChunkStore, opts ...ConsumerOption) *EmbedderConsumer {
	h := &EmbedderConsumer{
		embedder:    e,
		store:       s,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *EmbedderConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestEmbedPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" || correlationID == "unknown" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if payload.ChunkID == "" || payload.Text == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "task_id", payload.TaskID, "chunk_id", payload.ChunkID)
		return nil
	}

	if h.tracker != nil {
		if current := h.tracker.CurrentTask(); current != payload.TaskID {
			slog.WarnContext(ctx, "stale chunk dropped", "task_id", payload.TaskID, "current_task_id", current, "chunk_id", payload.ChunkID)
			return nil
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vec, err := h.embedder.EmbedDocument(embedCtx, payload.Text)
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err, "chunk_id", payload.ChunkID, "attempt", m.Attempts)
		return h.fail(ctx, m, payload, err)
	}

	record := vector.Record{
		ID:         payload.ChunkID,
		Text:       payload.Text,
		Embedding:  vec,
		PageNumber: payload.PageNumber,
		Source:     payload.Source,
		StartPos:   payload.StartPos,
		EndPos:     payload.EndPos,
	}
	if err := h.store.Add(embedCtx, []vector.Record{record}); err != nil {
		slog.ErrorContext(ctx, "store chunk failed", "error", err, "chunk_id", payload.ChunkID, "attempt", m.Attempts)
		return h.fail(ctx, m, payload, err)
	}

	if p, ok := h.store.(ingest.Persister); ok {
		if err := p.Persist(ctx); err != nil {
			slog.WarnContext(ctx, "failed to persist index", "error", err)
		}
	}

	slog.InfoContext(ctx, "chunk stored successfully", "task_id", payload.TaskID, "chunk_id", payload.ChunkID)
	return nil
}

// fail requeues the message until its last attempt, then parks it as a failed job.
func (h *EmbedderConsumer) fail(ctx context.Context, m *nsq.Message, payload IngestEmbedPayload, cause error) error {
	if h.recorder == nil || m.Attempts < h.maxAttempts {
		return cause
	}

	payload.Retries++
	payload.CorrelationID = middleware.GetCorrelationID(ctx)
	if err := h.recorder.save(ctx, payload, cause); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return cause
	}
	return nil
}
