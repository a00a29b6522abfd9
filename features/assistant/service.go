package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"protoqa/features/feedback"
	"protoqa/internal/ingest"
	"protoqa/internal/retrieval"
	"protoqa/internal/synthesis"
	"protoqa/internal/vector"
	"protoqa/internal/worker"
)

const SearchTopK = 3

const (
	StatusReady     = "ready"
	StatusNoData    = "no_data"
	StatusIngesting = "ingesting"
)

var (
	ErrIngesting     = errors.New("an ingestion run is in progress")
	ErrNoModelLister = errors.New("generation provider does not list models")
)

type Retriever interface {
	RetrieveDetailed(ctx context.Context, question string, opts retrieval.Options) (*retrieval.Retrieval, error)
	AnswerOptions(ctx context.Context) retrieval.Options
	SearchOptions(ctx context.Context, topK int) retrieval.Options
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question string, evidence []retrieval.EvidenceItem, outcome retrieval.Outcome) synthesis.Answer
	WarmUp(ctx context.Context) error
	Ready() bool
}

type QuestionRecorder interface {
	RecordQuestion(ctx context.Context, q feedback.Question)
}

type IngestState interface {
	Active() bool
}

type Cache interface {
	Clear()
}

type JobPurger interface {
	PurgeStale(ctx context.Context, currentTaskID string) (int, error)
}

type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type Status struct {
	VectorCount int    `json:"vector_count"`
	Status      string `json:"status"`
	ModelReady  bool   `json:"model_ready"`
}

// Reply is an answer together with the question it answers.
type Reply struct {
	Question string `json:"question"`
	synthesis.Answer
}

type Service struct {
	retriever Retriever
	synth     Synthesizer
	index     vector.Index
	pool      *worker.Pool
	questions QuestionRecorder
	ingest    IngestState
	cache     Cache
	jobs      JobPurger
	models    ModelLister
}

type Option func(*Service)

func WithQuestionRecorder(r QuestionRecorder) Option {
	return func(s *Service) { s.questions = r }
}

func WithIngestState(st IngestState) Option {
	return func(s *Service) { s.ingest = st }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithJobPurger(j JobPurger) Option {
	return func(s *Service) { s.jobs = j }
}

func WithModelLister(m ModelLister) Option {
	return func(s *Service) { s.models = m }
}

func NewService(r Retriever, synth Synthesizer, idx vector.Index, pool *worker.Pool, opts ...Option) *Service {
	s := &Service{retriever: r, synth: synth, index: idx, pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask answers a question from the indexed protocol. It fails only on empty
// input or when retrieval itself fails.
func (s *Service) Ask(ctx context.Context, question string) (*Reply, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, retrieval.ErrEmptyQuestion
	}

	ans, err := worker.Do(ctx, s.pool, func(ctx context.Context) (synthesis.Answer, error) {
		return s.Answer(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	if s.questions != nil {
		s.questions.RecordQuestion(ctx, feedback.Question{
			Question: q,
			Method:   ans.Method,
			Category: string(ans.Category),
		})
	}
	return &Reply{Question: q, Answer: ans}, nil
}

// Answer runs retrieval and synthesis on the calling goroutine without
// recording analytics. Callers already running on the pool use it directly.
func (s *Service) Answer(ctx context.Context, question string) (synthesis.Answer, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return synthesis.Answer{}, retrieval.ErrEmptyQuestion
	}
	count, err := s.index.Count(ctx)
	if err != nil {
		return synthesis.Answer{}, fmt.Errorf("count chunks: %w", err)
	}
	if count == 0 {
		return synthesis.NoDocuments(), nil
	}

	res, err := s.retriever.RetrieveDetailed(ctx, q, s.retriever.AnswerOptions(ctx))
	if err != nil {
		return synthesis.Answer{}, err
	}
	return s.synth.Synthesize(ctx, q, res.Evidence, res.Outcome), nil
}

// Search returns the top evidence items using the generous floor.
func (s *Service) Search(ctx context.Context, question string) ([]retrieval.EvidenceItem, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, retrieval.ErrEmptyQuestion
	}
	res, err := s.retriever.RetrieveDetailed(ctx, q, s.retriever.SearchOptions(ctx, SearchTopK))
	if err != nil {
		return nil, err
	}
	if res.Evidence == nil {
		return []retrieval.EvidenceItem{}, nil
	}
	return res.Evidence, nil
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	st := &Status{VectorCount: count, Status: StatusNoData, ModelReady: s.synth.Ready()}
	switch {
	case s.ingest != nil && s.ingest.Active():
		st.Status = StatusIngesting
	case count > 0:
		st.Status = StatusReady
	}
	return st, nil
}

// Reset clears the index, the embedding cache and every parked failed chunk.
// It is refused while an ingestion run is writing to the index.
func (s *Service) Reset(ctx context.Context) (int, error) {
	if s.ingest != nil && s.ingest.Active() {
		return 0, ErrIngesting
	}

	n, err := vector.Clear(ctx, s.index)
	if err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}
	if p, ok := s.index.(ingest.Persister); ok {
		if err := p.Persist(ctx); err != nil {
			slog.WarnContext(ctx, "failed to persist cleared index", "error", err)
		}
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	if s.jobs != nil {
		if purged, err := s.jobs.PurgeStale(ctx, ""); err != nil {
			slog.WarnContext(ctx, "failed to purge failed jobs", "error", err)
		} else if purged > 0 {
			slog.InfoContext(ctx, "purged failed jobs", "count", purged)
		}
	}

	slog.InfoContext(ctx, "index reset", "cleared_count", n)
	return n, nil
}

func (s *Service) WarmUp(ctx context.Context) error {
	return s.synth.WarmUp(ctx)
}

func (s *Service) Models(ctx context.Context) ([]string, error) {
	if s.models == nil {
		return nil, ErrNoModelLister
	}
	return s.models.ListModels(ctx)
}
