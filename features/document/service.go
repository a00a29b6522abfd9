package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"protoqa/internal/adapter/pdf"
	"protoqa/internal/ingest"
)

var (
	ErrNotPDF       = errors.New("only PDF files are allowed")
	ErrTaskNotFound = errors.New("task not found")
)

const defaultListLimit = 50

// Ingester starts background ingestion runs and reports their progress.
type Ingester interface {
	Submit(ctx context.Context, taskID, filename string, src ingest.PageSource)
	Table() *ingest.ProgressTable
}

type Service struct {
	ingester  Ingester
	repo      Repository
	uploadDir string
	extractor *pdf.Extractor

	// upload sizes by task id, consumed by Record
	sizes sync.Map
}

// NewService wires uploads to the ingester. repo may be nil, which disables
// the document history.
func NewService(ing Ingester, repo Repository, uploadDir string) *Service {
	return &Service{ingester: ing, repo: repo, uploadDir: uploadDir, extractor: pdf.NewExtractor()}
}

// Upload stores the file under the upload directory and starts ingesting it.
// The returned task id can be polled with Progress immediately.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	base := filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(base), ".pdf") {
		return "", ErrNotPDF
	}

	if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	path := filepath.Clean(filepath.Join(s.uploadDir, fmt.Sprintf("%s_%s", uuid.New().String(), base)))

	dst, err := os.Create(path) // #nosec G304 -- path is UUID-prefixed basename inside uploadDir
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	size, err := io.Copy(dst, r)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}

	// Record may run before Submit returns when the run fails fast.
	taskID := uuid.New().String()
	s.sizes.Store(taskID, size)
	// The run outlives the request that started it.
	s.ingester.Submit(context.WithoutCancel(ctx), taskID, base, pdf.FileSource{Path: path, Extractor: s.extractor})
	slog.InfoContext(ctx, "upload accepted", "task_id", taskID, "filename", base, "bytes", size)
	return taskID, nil
}

func (s *Service) Progress(taskID string) (ingest.Record, error) {
	rec, ok := s.ingester.Table().Get(taskID)
	if !ok {
		return ingest.Record{}, ErrTaskNotFound
	}
	return rec, nil
}

// Record stores the outcome of a finished run. It is an ingest.CompletionHook.
func (s *Service) Record(ctx context.Context, rec ingest.Record) {
	var size int64
	if v, ok := s.sizes.LoadAndDelete(rec.TaskID); ok {
		size = v.(int64)
	}
	if s.repo == nil {
		return
	}
	doc := &Document{
		TaskID:      rec.TaskID,
		Filename:    rec.Details.Filename,
		PagesCount:  rec.Details.PagesCount,
		ChunksCount: rec.Details.ChunksCount,
		FailedCount: rec.Details.FailedCount,
		FileSize:    size,
		Status:      string(rec.Stage),
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		slog.WarnContext(ctx, "failed to record document", "task_id", rec.TaskID, "error", err)
	}
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	if s.repo == nil {
		return []Document{}, nil
	}
	docs, err := s.repo.List(ctx, defaultListLimit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}
