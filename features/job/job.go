package job

import (
	"encoding/json"
	"time"
)

// HandlerEmbed marks jobs whose payload is a chunk to re-embed.
const HandlerEmbed = "ingest.embed"

// Job is a unit of ingestion work that failed and can be retried.
type Job struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	ChunkID   string          `json:"chunk_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
