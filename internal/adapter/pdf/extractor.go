// Package pdf turns uploaded PDF files into numbered page texts.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"protoqa/internal/text"
)

var ErrNoText = errors.New("no extractable text found in PDF")

// Extractor reads every page of a PDF. Pages that cannot be decoded are
// logged and skipped; a document with no text at all is an error.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

func (e *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64) ([]text.Page, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	total := reader.NumPage()
	pages := make([]text.Page, 0, total)
	withText := 0
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable page", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(content) != "" {
			withText++
		}
		pages = append(pages, text.Page{Number: i, Text: content})
	}

	if withText == 0 {
		return nil, ErrNoText
	}
	slog.InfoContext(ctx, "pdf text extracted", "pages", total, "pages_with_text", withText)
	return pages, nil
}

// ExtractBytes is Extract over an in-memory document.
func (e *Extractor) ExtractBytes(ctx context.Context, data []byte) ([]text.Page, error) {
	return e.Extract(ctx, bytes.NewReader(data), int64(len(data)))
}

func (e *Extractor) ExtractFile(ctx context.Context, path string) ([]text.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}
	return e.ExtractBytes(ctx, data)
}

// FileSource extracts pages from a file on disk when the pipeline asks.
type FileSource struct {
	Path      string
	Extractor *Extractor
}

func (s FileSource) Pages(ctx context.Context) ([]text.Page, error) {
	ex := s.Extractor
	if ex == nil {
		ex = NewExtractor()
	}
	return ex.ExtractFile(ctx, s.Path)
}

// BytesSource extracts pages from an uploaded document held in memory.
type BytesSource struct {
	Data      []byte
	Extractor *Extractor
}

func (s BytesSource) Pages(ctx context.Context) ([]text.Page, error) {
	ex := s.Extractor
	if ex == nil {
		ex = NewExtractor()
	}
	return ex.ExtractBytes(ctx, s.Data)
}
