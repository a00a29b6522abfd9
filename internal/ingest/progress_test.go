package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTable() (*ProgressTable, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	table := NewProgressTable()
	table.now = clock.Now
	return table, clock
}

func TestProgressTable_StartIsIdempotent(t *testing.T) {
	table, clock := newTestTable()

	first := table.Start("task-1", "protocol.pdf")
	assert.Equal(t, StageStarting, first.Stage)
	assert.Equal(t, "protocol.pdf", first.Details.Filename)

	clock.Advance(time.Minute)
	table.Update("task-1", func(r *Record) { r.Progress = 15 })
	again := table.Start("task-1", "other.pdf")
	assert.Equal(t, 15, again.Progress)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, table.Len())
}

func TestProgressTable_Update(t *testing.T) {
	table, clock := newTestTable()

	_, ok := table.Update("missing", func(r *Record) {})
	assert.False(t, ok)

	table.Start("task-1", "a.pdf")
	clock.Advance(time.Second)
	rec, ok := table.Update("task-1", func(r *Record) {
		r.Stage = StageCompleted
		r.Completed = true
	})
	require.True(t, ok)
	require.NotNil(t, rec.CompletedAt)
	completedAt := *rec.CompletedAt
	assert.Equal(t, clock.Now(), rec.UpdatedAt)

	clock.Advance(time.Minute)
	rec, _ = table.Update("task-1", func(r *Record) { r.Message = "late write" })
	assert.Equal(t, completedAt, *rec.CompletedAt, "completion time is stamped once")
}

func TestProgressTable_GetReturnsCopies(t *testing.T) {
	table, _ := newTestTable()
	table.Start("task-1", "a.pdf")
	table.Update("task-1", func(r *Record) { r.Details.FailedChunks = []string{"chunk_3"} })

	rec, ok := table.Get("task-1")
	require.True(t, ok)
	rec.Details.FailedChunks[0] = "mutated"

	again, _ := table.Get("task-1")
	assert.Equal(t, []string{"chunk_3"}, again.Details.FailedChunks)

	_, ok = table.Get("unknown")
	assert.False(t, ok)
}

func TestProgressTable_Sweep(t *testing.T) {
	table, clock := newTestTable()

	table.Start("old-done", "a.pdf")
	table.Update("old-done", func(r *Record) { r.Completed = true })
	table.Start("running", "b.pdf")

	clock.Advance(50 * time.Minute)
	table.Start("recent-done", "c.pdf")
	table.Update("recent-done", func(r *Record) { r.Completed = true })

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, table.Sweep(time.Hour))

	_, ok := table.Get("old-done")
	assert.False(t, ok)
	_, ok = table.Get("running")
	assert.True(t, ok, "in-flight records are never swept")
	_, ok = table.Get("recent-done")
	assert.True(t, ok)
}

func TestProgressTable_ConcurrentAccess(t *testing.T) {
	table := NewProgressTable()
	table.Start("task", "a.pdf")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			table.Update("task", func(r *Record) { r.Progress = i })
		}(i)
		go func() {
			defer wg.Done()
			table.Get("task")
		}()
		go func() {
			defer wg.Done()
			table.Sweep(time.Hour)
		}()
	}
	wg.Wait()

	_, ok := table.Get("task")
	assert.True(t, ok)
}
