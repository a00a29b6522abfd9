package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protoqa/internal/adapter/chromem"
	"protoqa/internal/app"
	"protoqa/internal/config"
	"protoqa/internal/vector"
)

func TestEnsureSchemaWithRetry_Success(t *testing.T) {
	mockStore := &app.MockVectorStore{
		EnsureSchemaErr: nil,
	}
	err := app.EnsureSchemaWithRetry(context.Background(), mockStore, 1, 1*time.Millisecond)
	assert.NoError(t, err)
}

type statefulMockStore struct {
	app.MockVectorStore
	callCount int
	failUntil int
}

func (m *statefulMockStore) EnsureSchema(ctx context.Context) error {
	m.callCount++
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry_Retries(t *testing.T) {
	mock := &statefulMockStore{failUntil: 2}
	err := app.EnsureSchemaWithRetry(context.Background(), mock, 5, 1*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, mock.callCount)
}

func TestEnsureSchemaWithRetry_Fail(t *testing.T) {
	mockStore := &app.MockVectorStore{
		EnsureSchemaErr: errors.New("permanent error"),
	}
	err := app.EnsureSchemaWithRetry(context.Background(), mockStore, 3, 1*time.Millisecond)
	assert.EqualError(t, err, "permanent error")
}

func TestEnsureSchemaWithRetry_ZeroAttemptsStillTries(t *testing.T) {
	mock := &statefulMockStore{}
	require.NoError(t, app.EnsureSchemaWithRetry(context.Background(), mock, 0, time.Millisecond))
	assert.Equal(t, 1, mock.callCount)
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		DBHost: "invalid-host",
	}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}

func TestOpenIndex_Chromem(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.gob.gz")

	idx, err := app.OpenIndex(ctx, &config.Config{VectorBackend: config.BackendChromem, ChromemPath: path})
	require.NoError(t, err)
	require.IsType(t, &chromem.Index{}, idx)

	require.NoError(t, idx.Add(ctx, []vector.Record{
		{ID: "chunk_0", Text: "Subjects receive 10 mg daily.", Embedding: []float32{1, 0}, PageNumber: 2},
	}))
	require.NoError(t, idx.(*chromem.Index).Persist(ctx))

	// A second open restores the snapshot.
	reopened, err := app.OpenIndex(ctx, &config.Config{VectorBackend: config.BackendChromem, ChromemPath: path})
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenIndex_ChromemInMemory(t *testing.T) {
	idx, err := app.OpenIndex(context.Background(), &config.Config{VectorBackend: config.BackendChromem})
	require.NoError(t, err)
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenIndex_WeaviateUnreachable(t *testing.T) {
	cfg := &config.Config{
		VectorBackend:              config.BackendWeaviate,
		WeaviateHost:               "127.0.0.1:1",
		WeaviateScheme:             "http",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}
	idx, err := app.OpenIndex(context.Background(), cfg)
	assert.Nil(t, idx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weaviate schema error")
}
