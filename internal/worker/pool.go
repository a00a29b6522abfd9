package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// ErrPanicked is returned by Do when the task panicked.
var ErrPanicked = errors.New("task panicked")

// Pool bounds the goroutines serving per-request work.
type Pool struct {
	pool *ants.Pool
}

// NewPool creates a blocking pool of size workers. Panics are logged and the
// worker recycled.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		slog.Error("worker panic recovered", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{pool: p}, nil
}

func (p *Pool) Submit(task func()) error {
	return p.pool.Submit(task)
}

func (p *Pool) Running() int { return p.pool.Running() }

func (p *Pool) Cap() int { return p.pool.Cap() }

func (p *Pool) Release() {
	p.pool.Release()
}

// Do runs fn on the pool and waits for its result or for ctx to end.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)

	err := p.Submit(func() {
		defer func() {
			if v := recover(); v != nil {
				slog.ErrorContext(ctx, "task panic recovered", "panic", v)
				ch <- result{err: fmt.Errorf("%w: %v", ErrPanicked, v)}
			}
		}()
		val, err := fn(ctx)
		ch <- result{val: val, err: err}
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("submit task: %w", err)
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ForEach calls fn for every index in [0, n) with at most limit calls in
// flight and returns once all have finished. errs[i] holds fn's error for i.
func ForEach(ctx context.Context, p *Pool, n, limit int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	if limit <= 0 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	cancelled := func(from int) []error {
		for j := from; j < n; j++ {
			errs[j] = ctx.Err()
		}
		wg.Wait()
		return errs
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return cancelled(i)
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return cancelled(i)
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if v := recover(); v != nil {
					slog.ErrorContext(ctx, "task panic recovered", "panic", v, "index", i)
					errs[i] = fmt.Errorf("%w: %v", ErrPanicked, v)
				}
			}()
			errs[i] = fn(ctx, i)
		}
		if err := p.Submit(task); err != nil {
			wg.Done()
			<-sem
			errs[i] = fmt.Errorf("submit task: %w", err)
		}
	}
	wg.Wait()
	return errs
}
