package app

import (
	"log/slog"
	"os"

	"protoqa/features/assistant"
	"protoqa/internal/config"
	"protoqa/internal/embedding"
	"protoqa/internal/ingest"
	"protoqa/internal/retrieval"
	"protoqa/internal/settings"
	"protoqa/internal/synthesis"
	"protoqa/internal/vector"
	"protoqa/internal/worker"
)

// Core is the question-answering engine shared by the server and the CLI.
type Core struct {
	Index       vector.Index
	Gateway     *embedding.Gateway
	Settings    *settings.Service
	Ranker      *retrieval.Ranker
	Synthesizer *synthesis.Synthesizer
	Pool        *worker.Pool
	Pipeline    *ingest.Pipeline
	Assistant   *assistant.Service
}

type CoreOptions struct {
	// SettingsRepo stores the tunables; nil serves the configured defaults.
	SettingsRepo settings.Repository
	// QueryLogger overrides the file logger at QUERY_LOG_PATH.
	QueryLogger *retrieval.QueryLogger
	Pipeline    []ingest.Option
	Assistant   []assistant.Option
}

// DefaultSettings are the retrieval tunables taken from configuration.
func DefaultSettings(cfg *config.Config) settings.Settings {
	return settings.Settings{
		RelevanceMaxDistance: cfg.RelevanceMaxDistance,
		RelevanceFloorSearch: cfg.RelevanceFloorSearch,
		RelevanceFloorAnswer: cfg.RelevanceFloorAnswer,
		TopK:                 cfg.RetrievalTopK,
	}
}

func NewCore(cfg *config.Config, idx vector.Index, models *Models, opts CoreOptions) (*Core, error) {
	pool, err := worker.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, err
	}

	gateway := embedding.NewGateway(models.Embedder, embedding.Config{
		QueryTimeout:    cfg.EmbedQueryTimeout,
		QueryRetries:    cfg.EmbedRetries,
		DocumentTimeout: cfg.EmbedTimeout,
		DocumentRetries: cfg.EmbedRetries,
		TimeoutBackoff:  cfg.EmbedTimeoutBackoff,
		ConnBackoff:     cfg.EmbedConnBackoff,
	})

	settingsService := settings.NewService(opts.SettingsRepo, DefaultSettings(cfg))

	queryLogger := opts.QueryLogger
	if queryLogger == nil {
		if queryLogger, err = retrieval.NewFileQueryLogger(cfg.QueryLogPath); err != nil {
			slog.Warn("failed to create query logger, falling back to stdout", "error", err)
			queryLogger = retrieval.NewQueryLogger(os.Stdout)
		}
	}

	ranker := retrieval.NewRanker(gateway, idx, retrieval.Config{
		TopK:        cfg.RetrievalTopK,
		OverFetch:   cfg.RetrievalOverFetch,
		MultiQuery:  cfg.RetrievalMultiQuery,
		MaxDistance: cfg.RelevanceMaxDistance,
		FloorSearch: cfg.RelevanceFloorSearch,
		FloorAnswer: cfg.RelevanceFloorAnswer,
	}, retrieval.WithSettings(settingsService), retrieval.WithQueryLogger(queryLogger))

	synthCfg := synthesis.DefaultConfig()
	synthCfg.GenerationTimeout = cfg.GenerationTimeout
	synthCfg.WarmupTimeout = cfg.WarmupTimeout
	synth := synthesis.NewSynthesizer(models.Generator, synthCfg)

	pipeline := ingest.NewPipeline(ingest.NewProgressTable(), gateway, idx, ingest.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Workers:      cfg.EmbedWorkers,
	}, opts.Pipeline...)

	assistantOpts := []assistant.Option{
		assistant.WithIngestState(pipeline),
		assistant.WithCache(gateway),
	}
	if models.Lister != nil {
		assistantOpts = append(assistantOpts, assistant.WithModelLister(models.Lister))
	}
	assistantOpts = append(assistantOpts, opts.Assistant...)

	return &Core{
		Index:       idx,
		Gateway:     gateway,
		Settings:    settingsService,
		Ranker:      ranker,
		Synthesizer: synth,
		Pool:        pool,
		Pipeline:    pipeline,
		Assistant:   assistant.NewService(ranker, synth, idx, pool, assistantOpts...),
	}, nil
}

// Close waits for in-flight ingestion and releases the worker pool.
func (c *Core) Close() {
	c.Pipeline.Wait()
	c.Pool.Release()
}
