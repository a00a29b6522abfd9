package worker

// IngestEmbedPayload is a chunk that failed to embed during ingestion,
// replayed on config.TopicIngestEmbed.
type IngestEmbedPayload struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`

	// Chunk Data
	ChunkID    string `json:"chunk_id"`
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
	Source     string `json:"source"`
	StartPos   int    `json:"start_pos"`
	EndPos     int    `json:"end_pos"`

	Retries       int    `json:"retries"`
	CorrelationID string `json:"correlation_id"`
}
