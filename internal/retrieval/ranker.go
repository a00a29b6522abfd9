package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"protoqa/internal/middleware"
	"protoqa/internal/settings"
	"protoqa/internal/text"
	"protoqa/internal/vector"
)

var ErrEmptyQuestion = errors.New("question must not be empty")

// Outcome separates "nothing relevant" from "only boilerplate was relevant".
type Outcome string

const (
	OutcomeFound              Outcome = "found"
	OutcomeNoEvidence         Outcome = "no_evidence"
	OutcomeAdministrativeOnly Outcome = "administrative_only"
)

// EvidenceItem is one ranked passage. Text is whitespace-normalised;
// OriginalText is the stored chunk verbatim.
type EvidenceItem struct {
	Text           string  `json:"text"`
	OriginalText   string  `json:"original_text"`
	PageNumber     int     `json:"page_number"`
	SourceLabel    string  `json:"source"`
	RelevanceScore float64 `json:"relevance_score"`
	Distance       float64 `json:"distance"`
	CitationID     string  `json:"citation_id"`
}

type Retrieval struct {
	Evidence       []EvidenceItem
	Candidates     int
	Administrative int
	Outcome        Outcome
}

type Options struct {
	TopK         int
	MinRelevance float64
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type SettingsSource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type Config struct {
	TopK        int
	OverFetch   int
	MultiQuery  bool
	MaxDistance float64
	FloorSearch float64
	FloorAnswer float64
}

type Ranker struct {
	embedder   Embedder
	index      vector.Index
	cfg        Config
	expander   *Expander
	classifier *text.BoilerplateClassifier
	settings   SettingsSource
	logger     *QueryLogger
}

type RankerOption func(*Ranker)

func WithSettings(s SettingsSource) RankerOption {
	return func(r *Ranker) { r.settings = s }
}

func WithQueryLogger(l *QueryLogger) RankerOption {
	return func(r *Ranker) { r.logger = l }
}

func WithExpander(e *Expander) RankerOption {
	return func(r *Ranker) { r.expander = e }
}

func NewRanker(e Embedder, idx vector.Index, cfg Config, opts ...RankerOption) *Ranker {
	if cfg.OverFetch < 2 {
		cfg.OverFetch = 2
	}
	r := &Ranker{
		embedder:   e,
		index:      idx,
		cfg:        cfg,
		expander:   NewExpander(),
		classifier: text.NewBoilerplateClassifier(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Relevance maps a distance onto [0, 1] with a fixed ceiling.
func Relevance(distance, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return 0
	}
	s := (maxDistance - distance) / maxDistance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// tunables merges runtime settings over the static config.
func (r *Ranker) tunables(ctx context.Context) settings.Settings {
	t := settings.Settings{
		RelevanceMaxDistance: r.cfg.MaxDistance,
		RelevanceFloorSearch: r.cfg.FloorSearch,
		RelevanceFloorAnswer: r.cfg.FloorAnswer,
		TopK:                 r.cfg.TopK,
	}
	if r.settings == nil {
		return t
	}
	s, err := r.settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "settings unavailable, using configured retrieval defaults", "error", err)
		return t
	}
	if err := s.Validate(); err != nil {
		slog.WarnContext(ctx, "ignoring invalid retrieval settings", "error", err)
		return t
	}
	return *s
}

// AnswerOptions uses the strict floor for user-facing answers.
func (r *Ranker) AnswerOptions(ctx context.Context) Options {
	t := r.tunables(ctx)
	return Options{TopK: t.TopK, MinRelevance: t.RelevanceFloorAnswer}
}

// SearchOptions uses the generous floor; topK <= 0 keeps the configured value.
func (r *Ranker) SearchOptions(ctx context.Context, topK int) Options {
	t := r.tunables(ctx)
	if topK <= 0 {
		topK = t.TopK
	}
	return Options{TopK: topK, MinRelevance: t.RelevanceFloorSearch}
}

func (r *Ranker) Retrieve(ctx context.Context, question string, opts Options) ([]EvidenceItem, error) {
	res, err := r.RetrieveDetailed(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	return res.Evidence, nil
}

func (r *Ranker) RetrieveDetailed(ctx context.Context, question string, opts Options) (*Retrieval, error) {
	start := time.Now()
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}

	t := r.tunables(ctx)
	topK := opts.TopK
	if topK <= 0 {
		topK = t.TopK
	}
	maxDistance := vector.MaxDistanceFor(r.index, t.RelevanceMaxDistance)

	expanded := r.expander.Expand(q)
	matches, err := r.query(ctx, expanded, topK*r.cfg.OverFetch)
	if err != nil {
		return nil, err
	}

	if r.cfg.MultiQuery && expanded != q {
		raw, err := r.query(ctx, q, topK*r.cfg.OverFetch)
		if err != nil {
			// Keep the expanded results.
			slog.WarnContext(ctx, "raw question query failed", "error", err)
		} else {
			matches = merge(matches, raw)
		}
	}

	res := &Retrieval{Candidates: len(matches)}
	for _, m := range matches {
		score := Relevance(m.Distance, maxDistance)
		if score < opts.MinRelevance {
			continue
		}
		if r.classifier.IsAdministrative(m.Text) {
			res.Administrative++
			continue
		}
		res.Evidence = append(res.Evidence, EvidenceItem{
			Text:           text.NormalizeWhitespace(m.Text),
			OriginalText:   m.Text,
			PageNumber:     m.PageNumber(),
			SourceLabel:    m.Source(),
			RelevanceScore: score,
			Distance:       m.Distance,
			CitationID:     m.ID,
		})
	}

	sort.SliceStable(res.Evidence, func(i, j int) bool {
		return res.Evidence[i].RelevanceScore > res.Evidence[j].RelevanceScore
	})
	if len(res.Evidence) > topK {
		res.Evidence = res.Evidence[:topK]
	}

	switch {
	case len(res.Evidence) > 0:
		res.Outcome = OutcomeFound
	case res.Administrative > 0:
		res.Outcome = OutcomeAdministrativeOnly
	default:
		res.Outcome = OutcomeNoEvidence
	}

	if r.logger != nil {
		r.logger.Log(QueryLogEntry{
			Query:          q,
			ExpandedQuery:  expanded,
			NumResults:     len(res.Evidence),
			Candidates:     res.Candidates,
			Administrative: res.Administrative,
			Outcome:        res.Outcome,
			MaxDistance:    maxDistance,
			Floor:          opts.MinRelevance,
			Duration:       time.Since(start),
			CorrelationID:  middleware.GetCorrelationID(ctx),
		})
	}
	return res, nil
}

func (r *Ranker) query(ctx context.Context, q string, n int) ([]vector.Match, error) {
	vec, err := r.embedder.EmbedQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, vec, n)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return matches, nil
}

// merge appends extra matches whose text is not already present.
func merge(primary, extra []vector.Match) []vector.Match {
	seen := make(map[string]struct{}, len(primary))
	for _, m := range primary {
		seen[m.Text] = struct{}{}
	}
	for _, m := range extra {
		if _, dup := seen[m.Text]; dup {
			continue
		}
		seen[m.Text] = struct{}{}
		primary = append(primary, m)
	}
	return primary
}
