package config

const (
	// TopicIngestEmbed is the NSQ topic for re-embedding chunks that failed during ingestion.
	TopicIngestEmbed = "ingest.embed"

	// ChannelEmbedRetry is the consumer channel for TopicIngestEmbed.
	ChannelEmbedRetry = "backend"
)
