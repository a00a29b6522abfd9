package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"protoqa/internal/adapter/chromem"
	"protoqa/internal/embedding"
	"protoqa/internal/text"
	"protoqa/internal/vector"
)

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

func vectorFor(s string) []float32 {
	return []float32{float32(len(s)%13) + 1, float32(strings.Count(s, "e")) + 1, 1}
}

var okEmbedder = embedFunc(func(_ context.Context, s string) ([]float32, error) { return vectorFor(s), nil })

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordFailure(ctx context.Context, f ChunkFailure) error {
	return m.Called(ctx, f).Error(0)
}

type staticPages []text.Page

func (s staticPages) Pages(context.Context) ([]text.Page, error) { return s, nil }

type failingPages struct{ err error }

func (f failingPages) Pages(context.Context) ([]text.Page, error) { return nil, f.err }

func numberedPages(n int) staticPages {
	pages := make(staticPages, n)
	for i := range pages {
		pages[i] = text.Page{Number: i + 1, Text: fmt.Sprintf("Visit %d assessments include vital signs and laboratory tests.", i+1)}
	}
	return pages
}

func newIndex(t *testing.T) *chromem.Index {
	t.Helper()
	idx, err := chromem.NewIndex("")
	require.NoError(t, err)
	return idx
}

func TestPipeline_PartialFailureStillCompletes(t *testing.T) {
	pages := numberedPages(50)
	failing := pages[10].Text
	embedder := embedFunc(func(_ context.Context, s string) ([]float32, error) {
		if s == failing {
			return nil, embedding.NewError(embedding.KindTimeout, errors.New("deadline exceeded"))
		}
		return vectorFor(s), nil
	})

	recorder := new(MockRecorder)
	recorder.On("RecordFailure", mock.Anything, mock.MatchedBy(func(f ChunkFailure) bool {
		return f.Chunk.ID == "chunk_10" && f.TaskID == "task-50" && f.Filename == "protocol.pdf"
	})).Return(nil).Once()

	idx := newIndex(t)
	p := NewPipeline(NewProgressTable(), embedder, idx, Config{ChunkSize: 1000, ChunkOverlap: 200, Workers: 1}, WithFailureRecorder(recorder))

	rec := p.Ingest(context.Background(), "task-50", "protocol.pdf", pages)

	assert.Equal(t, StageCompleted, rec.Stage)
	assert.Equal(t, 100, rec.Progress)
	assert.True(t, rec.Completed)
	assert.Empty(t, rec.Error)
	assert.Equal(t, 50, rec.Details.PagesCount)
	assert.Equal(t, 50, rec.Details.ChunksCount)
	assert.Equal(t, 49, rec.Details.EmbeddedCount)
	assert.Equal(t, 1, rec.Details.FailedCount)
	assert.Equal(t, []string{"chunk_10"}, rec.Details.FailedChunks)
	assert.Equal(t, "protocol.pdf", rec.Details.Filename)

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 49, count)
	recorder.AssertExpectations(t)
	assert.False(t, p.Active())
}

func TestPipeline_ProgressAdvancesMonotonically(t *testing.T) {
	table := NewProgressTable()
	var seen []int
	embedder := embedFunc(func(_ context.Context, s string) ([]float32, error) {
		rec, _ := table.Get("task")
		seen = append(seen, rec.Progress)
		return vectorFor(s), nil
	})
	p := NewPipeline(table, embedder, newIndex(t), Config{ChunkSize: 1000, ChunkOverlap: 200, Workers: 1})

	rec := p.Ingest(context.Background(), "task", "a.pdf", numberedPages(12))
	require.Equal(t, StageCompleted, rec.Stage)

	require.Len(t, seen, 12)
	assert.Equal(t, 60, seen[0])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	// Published after chunks 5 and 10.
	assert.Equal(t, 60+5*35/12, seen[5])
	assert.Equal(t, 60+10*35/12, seen[10])
}

func TestPipeline_ClearsPreviousDocument(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	require.NoError(t, idx.Add(ctx, []vector.Record{{ID: "old_chunk", Text: "stale", Embedding: []float32{1, 1, 1}}}))

	p := NewPipeline(NewProgressTable(), okEmbedder, idx, Config{ChunkSize: 1000, ChunkOverlap: 200})
	assert.Empty(t, p.CurrentTask())
	rec := p.Ingest(ctx, "task", "new.pdf", numberedPages(3))

	assert.Equal(t, 1, rec.Details.ClearedCount)
	assert.Equal(t, "task", p.CurrentTask())
	ids, err := idx.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk_0", "chunk_1", "chunk_2"}, ids)
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	p := NewPipeline(NewProgressTable(), okEmbedder, newIndex(t), Config{ChunkSize: 1000, ChunkOverlap: 200})

	rec := p.Ingest(context.Background(), "task", "broken.pdf", failingPages{err: errors.New("malformed xref table")})

	assert.Equal(t, StageFailed, rec.Stage)
	assert.Equal(t, 0, rec.Progress)
	assert.True(t, rec.Completed)
	assert.Contains(t, rec.Error, "malformed xref table")
	assert.Equal(t, "Error: "+rec.Error, rec.Message)
	require.NotNil(t, rec.CompletedAt)
}

func TestPipeline_NoText(t *testing.T) {
	p := NewPipeline(NewProgressTable(), okEmbedder, newIndex(t), Config{ChunkSize: 1000, ChunkOverlap: 200})

	rec := p.Ingest(context.Background(), "task", "blank.pdf", staticPages{{Number: 1, Text: "  "}, {Number: 2}})
	assert.Equal(t, StageFailed, rec.Stage)
	assert.Equal(t, ErrNoChunks.Error(), rec.Error)
}

func TestPipeline_InvalidChunking(t *testing.T) {
	p := NewPipeline(NewProgressTable(), okEmbedder, newIndex(t), Config{ChunkSize: 100, ChunkOverlap: 100})

	rec := p.Ingest(context.Background(), "task", "a.pdf", numberedPages(1))
	assert.Equal(t, StageFailed, rec.Stage)
	assert.Contains(t, rec.Error, "chunk pages")
}

type brokenIndex struct {
	vector.Index
}

func (brokenIndex) IDs(context.Context) ([]string, error) { return nil, errors.New("index offline") }

func TestPipeline_ClearFailureFailsRun(t *testing.T) {
	p := NewPipeline(NewProgressTable(), okEmbedder, brokenIndex{Index: newIndex(t)}, Config{ChunkSize: 1000, ChunkOverlap: 200})

	rec := p.Ingest(context.Background(), "task", "a.pdf", numberedPages(2))
	assert.Equal(t, StageFailed, rec.Stage)
	assert.Contains(t, rec.Error, "index offline")
}

func TestPipeline_ParallelWorkers(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	embedder := embedFunc(func(_ context.Context, s string) ([]float32, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return vectorFor(s), nil
	})
	idx := newIndex(t)
	p := NewPipeline(NewProgressTable(), embedder, idx, Config{ChunkSize: 1000, ChunkOverlap: 200, Workers: 4})

	rec := p.Ingest(context.Background(), "task", "a.pdf", numberedPages(20))
	assert.Equal(t, StageCompleted, rec.Stage)
	assert.Equal(t, 20, rec.Details.EmbeddedCount)
	assert.Equal(t, 20, calls)
	count, _ := idx.Count(context.Background())
	assert.Equal(t, 20, count)
}

func TestPipeline_SubmitReportsActiveUntilDone(t *testing.T) {
	release := make(chan struct{})
	embedder := embedFunc(func(_ context.Context, s string) ([]float32, error) {
		<-release
		return vectorFor(s), nil
	})
	p := NewPipeline(NewProgressTable(), embedder, newIndex(t), Config{ChunkSize: 1000, ChunkOverlap: 200})

	taskID := "task-bg"
	p.Submit(context.Background(), taskID, "a.pdf", numberedPages(2))
	_, ok := p.Table().Get(taskID)
	require.True(t, ok, "record exists as soon as Submit returns")
	assert.True(t, p.Active())

	assert.Eventually(t, func() bool {
		rec, _ := p.Table().Get(taskID)
		return rec.Stage == StageEmbedding
	}, time.Second, 5*time.Millisecond)

	close(release)
	p.Wait()
	assert.False(t, p.Active())
	rec, _ := p.Table().Get(taskID)
	assert.Equal(t, StageCompleted, rec.Stage)
}

func TestPipeline_PersistsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob.gz")
	idx, err := chromem.NewIndex(path)
	require.NoError(t, err)

	p := NewPipeline(NewProgressTable(), okEmbedder, idx, Config{ChunkSize: 1000, ChunkOverlap: 200})
	rec := p.Ingest(context.Background(), "task", "a.pdf", numberedPages(2))
	require.Equal(t, StageCompleted, rec.Stage)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestPipeline_CompletionHooks(t *testing.T) {
	var got []Record
	hook := func(_ context.Context, rec Record) { got = append(got, rec) }
	p := NewPipeline(NewProgressTable(), okEmbedder, newIndex(t), Config{ChunkSize: 1000, ChunkOverlap: 200},
		WithCompletionHook(hook))

	p.Ingest(context.Background(), "ok", "a.pdf", numberedPages(2))
	p.Ingest(context.Background(), "bad", "b.pdf", failingPages{err: errors.New("corrupt xref table")})

	require.Len(t, got, 2)
	assert.Equal(t, StageCompleted, got[0].Stage)
	assert.Equal(t, 2, got[0].Details.ChunksCount)
	assert.Equal(t, StageFailed, got[1].Stage)
	assert.Equal(t, "b.pdf", got[1].Details.Filename)
}
