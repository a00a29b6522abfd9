// Package chromem is the in-process vector index, backed by chromem-go.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"protoqa/internal/vector"
)

const (
	collectionName = "protocol_chunks"
	manifestName   = "protocol_manifest"
	manifestDocID  = "manifest"
)

var errNoEmbedding = errors.New("chunks must be stored with precomputed embeddings")

// ErrManifestMismatch reports a snapshot whose id manifest does not match its chunks.
var ErrManifestMismatch = errors.New("chromem manifest mismatch")

// Index implements vector.Index on a chromem collection. Similarity is cosine,
// reported as distance = 1 - similarity.
type Index struct {
	db   *chromem.DB
	path string

	mu  sync.RWMutex
	col *chromem.Collection
	ids map[string]struct{}
}

// NewIndex creates an empty in-memory index. When path is set, Load and
// Persist read and write a compressed gob export there.
func NewIndex(path string) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{db: db, path: path, col: col, ids: make(map[string]struct{})}, nil
}

// refuseEmbedding keeps chromem from calling its default remote embedder.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

func (x *Index) MaxDistance() float64 { return vector.CosineMaxDistance }

func (x *Index) Query(ctx context.Context, embedding []float32, n int) ([]vector.Match, error) {
	x.mu.RLock()
	col := x.col
	x.mu.RUnlock()

	// chromem-go requires 0 < nResults <= collection size.
	count := col.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]vector.Match, len(results))
	for i, r := range results {
		matches[i] = vector.Match{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: r.Metadata,
			Distance: 1 - float64(r.Similarity),
		}
	}
	return matches, nil
}

func (x *Index) Add(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s: %w", r.ID, errNoEmbedding)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Embedding,
			Metadata:  r.Metadata(),
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem add: %w", err)
	}
	for _, r := range records {
		x.ids[r.ID] = struct{}{}
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	for _, id := range ids {
		delete(x.ids, id)
	}
	return nil
}

func (x *Index) IDs(ctx context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.ids))
	for id := range x.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.col.Count(), nil
}

// Persist writes the collection and an id manifest to the configured path.
func (x *Index) Persist(ctx context.Context) error {
	if x.path == "" {
		return nil
	}

	x.mu.RLock()
	ids := make([]string, 0, len(x.ids))
	for id := range x.ids {
		ids = append(ids, id)
	}
	x.mu.RUnlock()
	sort.Strings(ids)

	if err := x.writeManifest(ctx, ids); err != nil {
		return err
	}
	if err := x.db.ExportToFile(x.path, true, ""); err != nil {
		return fmt.Errorf("export to file: %w", err)
	}
	slog.InfoContext(ctx, "vector index persisted", "path", x.path, "chunks", len(ids))
	return nil
}

// Load restores a previous Persist. A missing file leaves the index empty.
// A snapshot whose id manifest is absent or disagrees with its chunks is
// rejected, since ids cannot be listed back out of the collection.
func (x *Index) Load(ctx context.Context) error {
	if x.path == "" {
		return nil
	}
	if _, err := os.Stat(x.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := x.db.ImportFromFile(x.path, ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}

	// Re-acquire collection reference after import.
	col := x.db.GetCollection(collectionName, refuseEmbedding)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", collectionName)
	}
	ids, err := x.readManifest(ctx)
	if err != nil {
		return err
	}
	if err := checkManifest(ctx, col, ids); err != nil {
		return fmt.Errorf("load %s: %w", x.path, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.col = col
	x.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		x.ids[id] = struct{}{}
	}
	slog.InfoContext(ctx, "vector index loaded", "path", x.path, "chunks", col.Count())
	return nil
}

func (x *Index) writeManifest(ctx context.Context, ids []string) error {
	payload, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	m, err := x.db.GetOrCreateCollection(manifestName, nil, refuseEmbedding)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	return m.AddDocument(ctx, chromem.Document{
		ID:        manifestDocID,
		Content:   string(payload),
		Embedding: []float32{1},
	})
}

// readManifest returns nil ids when the snapshot carries no manifest.
func (x *Index) readManifest(ctx context.Context) ([]string, error) {
	m := x.db.GetCollection(manifestName, refuseEmbedding)
	if m == nil || m.Count() == 0 {
		return nil, nil
	}
	doc, err := m.GetByID(ctx, manifestDocID)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(doc.Content), &ids); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return ids, nil
}

func checkManifest(ctx context.Context, col *chromem.Collection, ids []string) error {
	if len(ids) != col.Count() {
		return fmt.Errorf("%w: manifest lists %d ids, collection holds %d", ErrManifestMismatch, len(ids), col.Count())
	}
	for _, id := range ids {
		if _, err := col.GetByID(ctx, id); err != nil {
			return fmt.Errorf("%w: %s not in collection", ErrManifestMismatch, id)
		}
	}
	return nil
}
