package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protoqa/internal/adapter/weaviate"
	"protoqa/internal/testutils"
	"protoqa/internal/vector"
)

func TestWeaviateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := weaviate.NewStore(s.Weaviate)
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	records := []vector.Record{
		{ID: "chunk_0", Text: "The primary objective is efficacy.", Embedding: []float32{1, 0, 0}, PageNumber: 1, Source: "Page 1", EndPos: 34},
		{ID: "chunk_1", Text: "Adverse events are recorded.", Embedding: []float32{0, 1, 0}, PageNumber: 2, Source: "Page 2", EndPos: 28},
	}
	require.NoError(t, store.Add(ctx, records))

	// Re-adding the same chunk ids overwrites instead of duplicating.
	require.NoError(t, store.Add(ctx, records))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := store.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "chunk_0", matches[0].ID)
	assert.Less(t, matches[0].Distance, matches[1].Distance)

	n, err := vector.Clear(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
