package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"protoqa/internal/config"
)

const publishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

var ErrInvalidPayload = errors.New("job payload is not valid JSON")

// ErrNoPublisher is returned by Retry when the retry worker is disabled.
var ErrNoPublisher = errors.New("retry publisher not configured")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	timeout time.Duration
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub, timeout: publishTimeout}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry republishes a failed job and removes it once the broker accepted it.
func (s *Service) Retry(ctx context.Context, id string) error {
	if s.pub == nil {
		return ErrNoPublisher
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !json.Valid(job.Payload) {
		return fmt.Errorf("%w: job %s", ErrInvalidPayload, id)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(topicFor(job.Handler), job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(s.timeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	slog.InfoContext(ctx, "job republished", "id", id, "task_id", job.TaskID, "chunk_id", job.ChunkID)
	return s.repo.Delete(ctx, id)
}

// PurgeStale drops failed jobs whose chunks no longer belong to the indexed
// document. An empty currentTaskID drops them all.
func (s *Service) PurgeStale(ctx context.Context, currentTaskID string) (int, error) {
	n, err := s.repo.DeleteStale(ctx, currentTaskID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "stale failed jobs purged", "count", n, "current_task_id", currentTaskID)
	}
	return n, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func topicFor(handler string) string {
	switch handler {
	case HandlerEmbed:
		return config.TopicIngestEmbed
	default:
		return handler
	}
}
