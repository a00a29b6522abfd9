package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically reclaims finished progress records.
type Sweeper struct {
	table     *ProgressTable
	interval  time.Duration
	retention time.Duration
	wg        sync.WaitGroup
}

func NewSweeper(table *ProgressTable, interval, retention time.Duration) *Sweeper {
	return &Sweeper{table: table, interval: interval, retention: retention}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.InfoContext(ctx, "progress sweeper started", "interval", s.interval, "retention", s.retention)
		for {
			select {
			case <-ctx.Done():
				slog.Info("progress sweeper stopped")
				return
			case <-ticker.C:
				if n := s.table.Sweep(s.retention); n > 0 {
					slog.InfoContext(ctx, "swept progress records", "count", n)
				}
			}
		}
	}()
}

// Wait blocks until the loop started by Start has returned.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}
