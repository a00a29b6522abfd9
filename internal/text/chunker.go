package text

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// SentenceSnapWindow is how far back from a window edge the builder looks for a
// sentence boundary.
const SentenceSnapWindow = 150

var ErrInvalidChunking = errors.New("chunk size must be positive and overlap must be in [0, size)")

// Page is one page of extracted document text.
type Page struct {
	Number int
	Text   string
}

// Chunk is a page-scoped window of text. Offsets are rune offsets into the
// untrimmed page text; Text is that window with surrounding whitespace trimmed.
type Chunk struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	PageNumber  int    `json:"page_number"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	SourceLabel string `json:"source_label"`
}

func SourceLabel(page int) string {
	return fmt.Sprintf("Page %d", page)
}

func ChunkID(seq int) string {
	return fmt.Sprintf("chunk_%d", seq)
}

// BuildChunks splits every page into overlapping windows of size runes. Ids are
// dense across the whole call, so one call corresponds to one ingestion run.
func BuildChunks(pages []Page, size, overlap int) ([]Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, size, overlap)
	}

	var chunks []Chunk
	seq := 0
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		runes := []rune(p.Text)
		n := len(runes)

		start := 0
		for start < n {
			end := start + size
			if end >= n {
				end = n
			} else {
				end = snapToSentence(runes, start, end, overlap)
			}

			if body := strings.TrimSpace(string(runes[start:end])); body != "" {
				chunks = append(chunks, Chunk{
					ID:          ChunkID(seq),
					Text:        body,
					PageNumber:  p.Number,
					StartOffset: start,
					EndOffset:   end,
					SourceLabel: SourceLabel(p.Number),
				})
				seq++
			}

			if end == n {
				break
			}
			start = end - overlap
		}
	}
	return chunks, nil
}

// snapToSentence moves end back to the start of the last sentence that begins
// inside the trailing window, as long as the next window still moves forward.
func snapToSentence(r []rune, start, end, overlap int) int {
	lo := end - SentenceSnapWindow
	if lo < start {
		lo = start
	}
	for i := end - 2; i >= lo; i-- {
		if !isTerminator(r[i]) || !unicode.IsSpace(r[i+1]) || !unicode.IsUpper(r[i+2]) {
			continue
		}
		if candidate := i + 2; candidate-overlap > start {
			return candidate
		}
		return end
	}
	return end
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeWhitespace collapses every whitespace run to a single space.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
