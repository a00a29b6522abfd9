package chromem

import (
	"context"
	"path/filepath"
	"testing"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protoqa/internal/vector"
)

func records() []vector.Record {
	return []vector.Record{
		{ID: "chunk_0", Text: "Primary objective text", Embedding: []float32{1, 0, 0}, PageNumber: 1, Source: "Page 1", StartPos: 0, EndPos: 22},
		{ID: "chunk_1", Text: "Safety text", Embedding: []float32{0, 1, 0}, PageNumber: 2, Source: "Page 2", StartPos: 0, EndPos: 11},
		{ID: "chunk_2", Text: "Dose text", Embedding: []float32{0.7, 0.7, 0}, PageNumber: 3, Source: "Page 3", StartPos: 5, EndPos: 14},
	}
}

func TestIndex_AddQuery(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("")
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, records()))

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "chunk_0", matches[0].ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-5)
	assert.Equal(t, "chunk_2", matches[1].ID)
	assert.Equal(t, "chunk_1", matches[2].ID)
	assert.InDelta(t, 1, matches[2].Distance, 1e-5)
	assert.Equal(t, 1, matches[0].PageNumber())
	assert.Equal(t, "Page 1", matches[0].Source())

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i].Distance, matches[i-1].Distance)
	}
}

func TestIndex_QueryClampsAndHandlesEmpty(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("")
	require.NoError(t, err)

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, idx.Add(ctx, records()[:1]))
	matches, err = idx.Query(ctx, []float32{1, 0, 0}, 12)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestIndex_RejectsMissingEmbedding(t *testing.T) {
	idx, err := NewIndex("")
	require.NoError(t, err)

	err = idx.Add(context.Background(), []vector.Record{{ID: "chunk_0", Text: "x"}})
	assert.ErrorIs(t, err, errNoEmbedding)
}

func TestIndex_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("")
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, records()))

	require.NoError(t, idx.Delete(ctx, "chunk_1"))
	ids, err := idx.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk_0", "chunk_2"}, ids)

	n, err := vector.Clear(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndex_PersistLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.gob.gz")

	idx, err := NewIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, records()))
	require.NoError(t, idx.Persist(ctx))

	restored, err := NewIndex(path)
	require.NoError(t, err)
	require.NoError(t, restored.Load(ctx))

	count, err := restored.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	ids, err := restored.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk_0", "chunk_1", "chunk_2"}, ids)

	matches, err := restored.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "chunk_1", matches[0].ID)
}

func TestIndex_LoadMissingFile(t *testing.T) {
	idx, err := NewIndex(filepath.Join(t.TempDir(), "absent.gob.gz"))
	require.NoError(t, err)
	assert.NoError(t, idx.Load(context.Background()))
}

func TestIndex_LoadRejectsSnapshotWithoutManifest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bare.gob.gz")

	db := chromemgo.NewDB()
	col, err := db.CreateCollection(collectionName, nil, refuseEmbedding)
	require.NoError(t, err)
	require.NoError(t, col.AddDocument(ctx, chromemgo.Document{
		ID: "chunk_0", Content: "Primary objective text", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, db.ExportToFile(path, true, ""))

	idx, err := NewIndex(path)
	require.NoError(t, err)
	err = idx.Load(ctx)
	require.ErrorIs(t, err, ErrManifestMismatch)
	assert.Contains(t, err.Error(), "manifest lists 0 ids, collection holds 1")
}

func TestIndex_LoadRejectsStaleManifest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stale.gob.gz")

	idx, err := NewIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, records()[:2]))
	require.NoError(t, idx.Persist(ctx))

	// Chunk written behind the manifest's back.
	require.NoError(t, idx.col.AddDocument(ctx, chromemgo.Document{
		ID: "chunk_9", Content: "Orphan", Embedding: []float32{0, 0, 1},
	}))
	require.NoError(t, idx.db.ExportToFile(path, true, ""))

	restored, err := NewIndex(path)
	require.NoError(t, err)
	assert.ErrorIs(t, restored.Load(ctx), ErrManifestMismatch)
}

func TestIndex_LoadAfterClearPersistsEmptyManifest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cleared.gob.gz")

	idx, err := NewIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, records()))
	require.NoError(t, idx.Persist(ctx))
	require.NoError(t, idx.Delete(ctx, "chunk_0", "chunk_1", "chunk_2"))
	require.NoError(t, idx.Persist(ctx))

	restored, err := NewIndex(path)
	require.NoError(t, err)
	require.NoError(t, restored.Load(ctx))
	ids, err := restored.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIndex_Calibrated(t *testing.T) {
	idx, err := NewIndex("")
	require.NoError(t, err)
	assert.Equal(t, vector.CosineMaxDistance, vector.MaxDistanceFor(idx, 0))
}
