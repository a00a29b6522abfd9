package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"protoqa/internal/adapter/pdf"
	"protoqa/internal/app"
	"protoqa/internal/config"
	"protoqa/internal/ingest"
	"protoqa/internal/logger"
	"protoqa/internal/retrieval"
)

const defaultIndexPath = "data/index.gob.gz"

// cliCore opens the index and engine without Postgres. A chromem index
// without CHROMEM_PATH falls back to indexPath so runs share one snapshot.
func cliCore(ctx context.Context, verbose bool, indexPath string) (*app.Core, func(), error) {
	slog.SetDefault(logger.New(os.Stderr, verbose))

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.VectorBackend == config.BackendChromem && cfg.ChromemPath == "" {
		cfg.ChromemPath = indexPath
	}
	if cfg.ChromemPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ChromemPath), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	idx, err := app.OpenIndex(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	// Query logs stay off stdout, which carries the command's result.
	var queryLog io.Writer = io.Discard
	if verbose {
		queryLog = os.Stderr
	}
	models := app.NewModels(cfg)
	core, err := app.NewCore(cfg, idx, models, app.CoreOptions{QueryLogger: retrieval.NewQueryLogger(queryLog)})
	if err != nil {
		_ = models.Close()
		return nil, nil, err
	}
	return core, func() {
		core.Close()
		_ = models.Close()
	}, nil
}

func newIngestCmd(verbose *bool) *cobra.Command {
	var indexPath string
	cmd := &cobra.Command{
		Use:   "ingest <protocol.pdf>",
		Short: "Replace the indexed document with a protocol PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, closeFn, err := cliCore(ctx, *verbose, indexPath)
			if err != nil {
				return err
			}
			defer closeFn()

			path := args[0]
			rec := core.Pipeline.Ingest(ctx, uuid.New().String(), filepath.Base(path),
				pdf.FileSource{Path: path, Extractor: pdf.NewExtractor()})
			if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
			if rec.Stage == ingest.StageFailed {
				return errors.New(rec.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&indexPath, "index", defaultIndexPath, "chromem snapshot path when CHROMEM_PATH is unset")
	return cmd
}

func newAskCmd(verbose *bool) *cobra.Command {
	var (
		indexPath string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the indexed protocol",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, closeFn, err := cliCore(ctx, *verbose, indexPath)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := core.Assistant.WarmUp(ctx); err != nil {
				slog.WarnContext(ctx, "model unavailable, answering from the category fallback", "error", err)
			}

			reply, err := core.Assistant.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, reply)
			}
			fmt.Fprintln(out, reply.Answer.Answer)
			if len(reply.Sources) > 0 {
				fmt.Fprintf(out, "\nSources: %s\n", strings.Join(reply.Sources, ", "))
			}
			fmt.Fprintf(out, "Method: %s\n", reply.Method)
			return nil
		},
	}
	cmd.Flags().StringVar(&indexPath, "index", defaultIndexPath, "chromem snapshot path when CHROMEM_PATH is unset")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full reply as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
