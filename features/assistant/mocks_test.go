package assistant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"protoqa/features/feedback"
	"protoqa/internal/adapter/chromem"
	"protoqa/internal/retrieval"
	"protoqa/internal/synthesis"
	"protoqa/internal/vector"
	"protoqa/internal/worker"
)

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) RetrieveDetailed(ctx context.Context, q string, opts retrieval.Options) (*retrieval.Retrieval, error) {
	args := m.Called(ctx, q, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Retrieval), args.Error(1)
}

func (m *MockRetriever) AnswerOptions(ctx context.Context) retrieval.Options {
	return retrieval.Options{TopK: 6, MinRelevance: 0.2}
}

func (m *MockRetriever) SearchOptions(ctx context.Context, topK int) retrieval.Options {
	return retrieval.Options{TopK: topK, MinRelevance: 0.1}
}

type MockSynthesizer struct {
	mock.Mock
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, q string, ev []retrieval.EvidenceItem, outcome retrieval.Outcome) synthesis.Answer {
	return m.Called(ctx, q, ev, outcome).Get(0).(synthesis.Answer)
}

func (m *MockSynthesizer) WarmUp(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSynthesizer) Ready() bool {
	return m.Called().Bool(0)
}

type MockQuestions struct {
	mock.Mock
}

func (m *MockQuestions) RecordQuestion(ctx context.Context, q feedback.Question) {
	m.Called(ctx, q)
}

type MockPurger struct {
	mock.Mock
}

func (m *MockPurger) PurgeStale(ctx context.Context, current string) (int, error) {
	args := m.Called(ctx, current)
	return args.Int(0), args.Error(1)
}

type MockModels struct {
	mock.Mock
}

func (m *MockModels) ListModels(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type ingestFlag bool

func (f ingestFlag) Active() bool { return bool(f) }

type countingCache struct{ clears int }

func (c *countingCache) Clear() { c.clears++ }

func newPool(t *testing.T) *worker.Pool {
	t.Helper()
	p, err := worker.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func newIndex(t *testing.T, n int) *chromem.Index {
	t.Helper()
	idx, err := chromem.NewIndex("")
	require.NoError(t, err)
	var recs []vector.Record
	for i := 0; i < n; i++ {
		recs = append(recs, vector.Record{
			ID:         "chunk_" + string(rune('0'+i)),
			Text:       "The primary objective is to evaluate safety.",
			Embedding:  []float32{1, float32(i), 0},
			PageNumber: i + 1,
			Source:     "Page " + string(rune('1'+i)),
		})
	}
	if len(recs) > 0 {
		require.NoError(t, idx.Add(context.Background(), recs))
	}
	return idx
}
