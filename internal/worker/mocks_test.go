package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"protoqa/features/job"
	"protoqa/internal/vector"
)

// Mocks

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockChunkStore struct{ mock.Mock }

func (m *MockChunkStore) Add(ctx context.Context, records []vector.Record) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

type persistingStore struct {
	MockChunkStore
	persisted int
}

func (p *persistingStore) Persist(ctx context.Context) error {
	p.persisted++
	return nil
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockJobRepo) List(ctx context.Context) ([]job.Job, error)          { return nil, nil }
func (m *MockJobRepo) Get(ctx context.Context, id string) (*job.Job, error) { return nil, nil }
func (m *MockJobRepo) Delete(ctx context.Context, id string) error          { return nil }
func (m *MockJobRepo) DeleteStale(ctx context.Context, currentTaskID string) (int, error) {
	return 0, nil
}
func (m *MockJobRepo) Count(ctx context.Context) (int, error) { return 0, nil }

type staticTracker string

func (s staticTracker) CurrentTask() string { return string(s) }
