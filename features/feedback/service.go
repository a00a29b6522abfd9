package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultStatsDays   = 7
	DefaultRecentLimit = 20
	maxStatsDays       = 365
	maxRecentLimit     = 200
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Submit validates and stores a reaction. Anonymous reactions get a fresh session id.
func (s *Service) Submit(ctx context.Context, f *Feedback) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.UserSession == "" {
		f.UserSession = uuid.New().String()
	}
	if f.Sources == nil {
		f.Sources = []string{}
	}
	if f.AdditionalData == nil {
		f.AdditionalData = map[string]interface{}{}
	}
	if err := s.repo.Save(ctx, f); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	slog.InfoContext(ctx, "feedback recorded", "id", f.ID, "reaction", f.ReactionType, "message_id", f.MessageID)
	return nil
}

// Stats aggregates the last days days. Out of range values fall back to the default window.
func (s *Service) Stats(ctx context.Context, days int) (*Stats, int, error) {
	if days <= 0 || days > maxStatsDays {
		days = DefaultStatsDays
	}
	c, err := s.repo.Counts(ctx, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, days, fmt.Errorf("feedback counts: %w", err)
	}
	return Summarize(c), days, nil
}

// Summarize derives the satisfaction rate (percent, one decimal) and rounds
// the average confidence to three places.
func Summarize(c *Counts) *Stats {
	rated := c.Likes + c.Dislikes
	if rated < 1 {
		rated = 1
	}
	return &Stats{
		TotalQuestions:     c.Questions,
		TotalLikes:         c.Likes,
		TotalDislikes:      c.Dislikes,
		TotalCopies:        c.Copies,
		TotalEvidenceViews: c.EvidenceViews,
		SatisfactionRate:   round(float64(c.Likes)/float64(rated)*100, 1),
		AvgConfidence:      round(c.AvgConfidence, 3),
	}
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Feedback, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	items, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent feedback: %w", err)
	}
	if items == nil {
		items = []Feedback{}
	}
	return items, nil
}

// RecordQuestion counts an answered question. Failures are logged, never surfaced.
func (s *Service) RecordQuestion(ctx context.Context, q Question) {
	if err := s.repo.RecordQuestion(ctx, q); err != nil {
		slog.WarnContext(ctx, "failed to record question", "error", err)
	}
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
