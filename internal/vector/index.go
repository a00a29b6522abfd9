// Package vector defines the index every backend implements and the Weaviate
// schema for protocol chunks.
package vector

import (
	"context"
	"strconv"
)

// Metadata keys stored alongside every chunk.
const (
	MetaPageNumber = "page_number"
	MetaSource     = "source"
	MetaStartPos   = "start_pos"
	MetaEndPos     = "end_pos"
)

// Record is one chunk ready to be stored.
type Record struct {
	ID         string
	Text       string
	Embedding  []float32
	PageNumber int
	Source     string
	StartPos   int
	EndPos     int
}

// Match is a query hit. Distance grows as similarity falls.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// PageNumber parses the page metadata; zero when absent.
func (m Match) PageNumber() int {
	n, _ := strconv.Atoi(m.Metadata[MetaPageNumber])
	return n
}

// Source returns the source label, falling back to "Page N".
func (m Match) Source() string {
	if s := m.Metadata[MetaSource]; s != "" {
		return s
	}
	if p := m.PageNumber(); p > 0 {
		return "Page " + strconv.Itoa(p)
	}
	return "Unknown"
}

// Metadata flattens the record's provenance into string metadata.
func (r Record) Metadata() map[string]string {
	return map[string]string{
		MetaPageNumber: strconv.Itoa(r.PageNumber),
		MetaSource:     r.Source,
		MetaStartPos:   strconv.Itoa(r.StartPos),
		MetaEndPos:     strconv.Itoa(r.EndPos),
	}
}

// Index is the single-document chunk store.
type Index interface {
	// Query returns up to n nearest chunks ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, n int) ([]Match, error)
	Add(ctx context.Context, records []Record) error
	Delete(ctx context.Context, ids ...string) error
	IDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// Clear removes every stored chunk.
func Clear(ctx context.Context, idx Index) (int, error) {
	ids, err := idx.IDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := idx.Delete(ctx, ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DefaultMaxDistance normalises raw squared-L2 distances when an index does
// not declare its own scale.
const DefaultMaxDistance = 500.0

// CosineMaxDistance is the scale for cosine-distance indexes: a chunk
// orthogonal to the query scores zero.
const CosineMaxDistance = 1.0

// Calibrated is implemented by indexes that know their distance scale.
type Calibrated interface {
	MaxDistance() float64
}

// MaxDistanceFor resolves the normalisation constant: an explicit override
// wins, then the index's declared scale, then DefaultMaxDistance.
func MaxDistanceFor(idx Index, override float64) float64 {
	if override > 0 {
		return override
	}
	if c, ok := idx.(Calibrated); ok && c.MaxDistance() > 0 {
		return c.MaxDistance()
	}
	return DefaultMaxDistance
}
