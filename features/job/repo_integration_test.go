package job_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protoqa/features/job"
	"protoqa/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	jobRepo := job.NewPostgresRepo(s.DB)
	ctx := context.Background()

	j1 := &job.Job{
		TaskID:  "task-old",
		ChunkID: "chunk_1",
		Handler: job.HandlerEmbed,
		Payload: json.RawMessage(`{"data": 1}`),
		Error:   "error 1",
	}
	require.NoError(t, jobRepo.Save(ctx, j1))

	// Ordering is by created_at.
	time.Sleep(100 * time.Millisecond)

	j2 := &job.Job{
		TaskID:  "task-new",
		ChunkID: "chunk_2",
		Handler: job.HandlerEmbed,
		Payload: json.RawMessage(`{"data": 2}`),
		Error:   "error 2",
	}
	require.NoError(t, jobRepo.Save(ctx, j2))

	jobs, err := jobRepo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, j2.ID, jobs[0].ID, "Newest job should be first")
	assert.Equal(t, j1.ID, jobs[1].ID, "Oldest job should be last")

	got, err := jobRepo.Get(ctx, j1.ID)
	require.NoError(t, err)
	assert.Equal(t, "chunk_1", got.ChunkID)

	n, err := jobRepo.DeleteStale(ctx, "task-new")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := jobRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
