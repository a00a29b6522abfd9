package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"protoqa/internal/app"
	"protoqa/internal/config"
	"protoqa/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "protoqa",
		Short: "Question answering over clinical trial protocols",
		Long: `protoqa ingests a clinical trial protocol PDF into a vector index and
answers questions about it with page-level citations, over HTTP, MCP or
the command line.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newServeCmd(&verbose), newIngestCmd(&verbose), newAskCmd(&verbose))
	return root
}

func newServeCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the MCP endpoints and the embed retry worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(os.Stdout, *verbose)
			slog.SetDefault(log)

			cfg, err := config.Load()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}
			return run(cmd.Context(), cfg, log)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.InfoContext(ctx, "starting protoqa",
		"vector_backend", cfg.VectorBackend,
		"embedding_provider", cfg.EmbeddingProvider,
		"generation_provider", cfg.GenerationProvider)

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		log.ErrorContext(ctx, "bootstrap failed", "error", err)
		return err
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	models := app.NewModels(cfg)
	defer func() {
		if err := models.Close(); err != nil {
			log.Warn("failed to close model clients", "error", err)
		}
	}()

	application, err := app.New(cfg, deps.DB, deps.Index, deps.NSQProducer, models)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	return application.Run(ctx)
}
