package worker

import (
	"context"

	"protoqa/internal/vector"
)

type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore is the write side of vector.Index.
type ChunkStore interface {
	Add(ctx context.Context, records []vector.Record) error
}

// TaskTracker reports which ingestion run owns the indexed chunks.
type TaskTracker interface {
	CurrentTask() string
}
