package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"

	"protoqa/features/assistant"
	"protoqa/features/document"
	"protoqa/features/extraction"
	"protoqa/features/feedback"
	"protoqa/features/job"
	"protoqa/features/mcp"
	"protoqa/features/stats"
	"protoqa/internal/config"
	"protoqa/internal/ingest"
	"protoqa/internal/middleware"
	"protoqa/internal/settings"
	"protoqa/internal/vector"
	"protoqa/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Handler          http.Handler
	Core             *Core
	Documents        *document.Service
	Jobs             *job.Service
	Feedback         *feedback.Service
	EmbedderConsumer *worker.EmbedderConsumer

	cfg     *config.Config
	sweeper *ingest.Sweeper
}

// New wires every feature onto one mux. pub may be nil, which disables job
// retries.
func New(cfg *config.Config, db *sql.DB, idx vector.Index, pub job.EventPublisher, models *Models) (*App, error) {
	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, pub)
	jobHandler := job.NewHandler(jobService)
	failed := worker.NewFailedChunkRecorder(jobRepo)

	// Feature: Feedback
	feedbackService := feedback.NewService(feedback.NewPostgresRepo(db))
	feedbackHandler := feedback.NewHandler(feedbackService)

	var documentService *document.Service
	recordDocument := func(ctx context.Context, rec ingest.Record) {
		documentService.Record(ctx, rec)
	}
	// Failed chunks from earlier documents no longer match the index.
	purgeStale := func(ctx context.Context, rec ingest.Record) {
		if rec.Stage != ingest.StageCompleted {
			return
		}
		if n, err := jobService.PurgeStale(ctx, rec.TaskID); err != nil {
			slog.WarnContext(ctx, "failed to purge stale jobs", "task_id", rec.TaskID, "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "stale jobs purged", "task_id", rec.TaskID, "count", n)
		}
	}

	core, err := NewCore(cfg, idx, models, CoreOptions{
		SettingsRepo: settings.NewPostgresRepo(db),
		Pipeline: []ingest.Option{
			ingest.WithFailureRecorder(failed),
			ingest.WithCompletionHook(recordDocument),
			ingest.WithCompletionHook(purgeStale),
		},
		Assistant: []assistant.Option{
			assistant.WithQuestionRecorder(feedbackService),
			assistant.WithJobPurger(jobService),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build core: %w", err)
	}

	// Feature: Document
	documentService = document.NewService(core.Pipeline, document.NewPostgresRepo(db), cfg.UploadDir)
	documentHandler := document.NewHandler(documentService, cfg.MaxUploadSizeMB)

	assistantHandler := assistant.NewHandler(core.Assistant)
	extractionHandler := extraction.NewHandler(extraction.NewService(core.Assistant, core.Pool))
	settingsHandler := settings.NewHandler(core.Settings)
	statsHandler := stats.NewHandler(idx, jobService, feedbackService)
	mcpHandler := mcp.NewHandler(core.Assistant)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(middleware.CORS(h)))
	}

	route("POST /chat", assistantHandler.Ask)
	route("POST /ask", assistantHandler.Ask)
	route("POST /search", assistantHandler.Search)
	route("GET /status", assistantHandler.Status)
	route("POST /reset-database", assistantHandler.Reset)
	route("GET /warm-up", assistantHandler.WarmUp)
	route("GET /test-ollama", assistantHandler.TestModels)
	route("GET /health", assistantHandler.Health)

	route("POST /upload-pdf-with-progress", documentHandler.Upload)
	route("GET /upload-progress/{task_id}", documentHandler.Progress)
	route("GET /documents", documentHandler.List)

	route("GET /extract-key-sections", extractionHandler.ExtractKeySections)
	route("POST /review-sections", extractionHandler.ReviewSections)

	route("POST /feedback", feedbackHandler.Submit)
	route("GET /feedback/stats", feedbackHandler.Stats)
	route("GET /feedback/recent", feedbackHandler.Recent)

	route("GET /jobs/failed", jobHandler.List)
	route("POST /jobs/{id}/retry", jobHandler.Retry)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	route("GET /stats", statsHandler.GetStats)

	route("POST /mcp", mcpHandler.ServeHTTP)
	route("GET /mcp/sse", mcpHandler.HandleSSE)
	route("POST /mcp/messages", mcpHandler.HandleMessage)

	// Method patterns never match a preflight.
	route("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {})

	return &App{
		Handler:   mux,
		Core:      core,
		Documents: documentService,
		Jobs:      jobService,
		Feedback:  feedbackService,
		EmbedderConsumer: worker.NewEmbedderConsumer(core.Gateway, idx,
			worker.WithTaskTracker(core.Pipeline),
			worker.WithFailedJobs(failed, worker.DefaultMaxAttempts)),
		cfg:     cfg,
		sweeper: ingest.NewSweeper(core.Pipeline.Table(), cfg.ProgressSweepInterval, cfg.ProgressRetention),
	}, nil
}

// Run serves until ctx is cancelled, then drains in-flight ingestion.
func (a *App) Run(ctx context.Context) error {
	a.sweeper.Start(ctx)

	go func() {
		if err := a.Core.Assistant.WarmUp(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("model warm-up failed; answers use the category fallback until it succeeds", "error", err)
		}
	}()

	var consumer *nsq.Consumer
	if a.cfg.EnableEmbedRetryWorker {
		consumer = a.startConsumer()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}
	a.sweeper.Wait()
	a.Core.Close()
	return err
}

func (a *App) startConsumer() *nsq.Consumer {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxAttempts = worker.DefaultMaxAttempts

	consumer, err := nsq.NewConsumer(config.TopicIngestEmbed, config.ChannelEmbedRetry, nsqCfg)
	if err != nil {
		slog.Error("failed to create NSQ consumer for embed retries", "error", err)
		return nil
	}
	consumer.AddConcurrentHandlers(a.EmbedderConsumer, a.cfg.EmbedWorkers)

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		slog.Error("failed to connect embed retry consumer", "error", err)
		consumer.Stop()
		return nil
	}
	slog.Info("NSQ embed retry consumer connected", "topic", config.TopicIngestEmbed)
	return consumer
}
