package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"protoqa/features/job"
	"protoqa/internal/ingest"
	"protoqa/internal/middleware"
)

// FailedChunkRecorder persists chunks that could not be embedded as failed
// jobs, so they can be replayed through the retry worker.
type FailedChunkRecorder struct {
	repo job.Repository
}

func NewFailedChunkRecorder(repo job.Repository) *FailedChunkRecorder {
	return &FailedChunkRecorder{repo: repo}
}

func (r *FailedChunkRecorder) RecordFailure(ctx context.Context, f ingest.ChunkFailure) error {
	c := f.Chunk
	return r.save(ctx, IngestEmbedPayload{
		TaskID:        f.TaskID,
		Filename:      f.Filename,
		ChunkID:       c.ID,
		Text:          c.Text,
		PageNumber:    c.PageNumber,
		Source:        c.SourceLabel,
		StartPos:      c.StartOffset,
		EndPos:        c.EndOffset,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}, f.Err)
}

func (r *FailedChunkRecorder) save(ctx context.Context, p IngestEmbedPayload, cause error) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	failedJob := &job.Job{
		TaskID:  p.TaskID,
		ChunkID: p.ChunkID,
		Handler: job.HandlerEmbed,
		Payload: body,
		Retries: p.Retries,
	}
	if cause != nil {
		failedJob.Error = cause.Error()
	}
	if err := r.repo.Save(ctx, failedJob); err != nil {
		return fmt.Errorf("save failed job: %w", err)
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failedJob.ID, "chunk_id", p.ChunkID)
	return nil
}
