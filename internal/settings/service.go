package settings

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the retrieval tunables operators can change without a restart.
type Settings struct {
	ID                   int     `json:"-"`
	RelevanceMaxDistance float64 `json:"relevance_max_distance"`
	RelevanceFloorSearch float64 `json:"relevance_floor_search"`
	RelevanceFloorAnswer float64 `json:"relevance_floor_answer"`
	TopK                 int     `json:"top_k"`
}

func (s *Settings) Validate() error {
	if s.RelevanceMaxDistance < 0 {
		return fmt.Errorf("%w: relevance_max_distance must not be negative", ErrInvalidSettings)
	}
	if s.RelevanceFloorSearch < 0 || s.RelevanceFloorSearch > 1 {
		return fmt.Errorf("%w: relevance_floor_search must be within [0, 1]", ErrInvalidSettings)
	}
	if s.RelevanceFloorAnswer < 0 || s.RelevanceFloorAnswer > 1 {
		return fmt.Errorf("%w: relevance_floor_answer must be within [0, 1]", ErrInvalidSettings)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidSettings)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo     Repository
	defaults Settings
}

// NewService returns a Service backed by repo. A nil repo serves defaults only,
// which is how the CLI runs without Postgres.
func NewService(repo Repository, defaults Settings) *Service {
	return &Service{repo: repo, defaults: defaults}
}

func (s *Service) Defaults() Settings {
	return s.defaults
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	if s.repo == nil {
		d := s.defaults
		return &d, nil
	}
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if s.repo == nil {
		s.defaults = *set
		return nil
	}
	return s.repo.Update(ctx, set)
}
