// Package synthesis turns ranked evidence into an answer, preferring the
// generation model and degrading to deterministic composers.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"protoqa/internal/retrieval"
	"protoqa/internal/text"
)

const (
	MethodModelSynthesis   = "model_synthesis"
	MethodCategoryFallback = "category_fallback"
	MethodGenericFallback  = "generic_fallback"
	MethodNoDocuments      = "no_documents"
)

const (
	DefaultContextItems      = 4
	DefaultItemBudget        = 800
	DefaultMinAnswerLength   = 30
	DefaultGenerationTimeout = 25 * time.Second
	DefaultWarmupTimeout     = 60 * time.Second
)

var ErrNoGenerator = errors.New("no generator configured")

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	WarmUp(ctx context.Context) error
}

type Answer struct {
	Answer   string                   `json:"answer"`
	Sources  []string                 `json:"sources"`
	Evidence []retrieval.EvidenceItem `json:"evidence"`
	Method   string                   `json:"method"`
	Category Category                 `json:"category,omitempty"`
}

type Config struct {
	GenerationTimeout time.Duration
	WarmupTimeout     time.Duration
	ContextItems      int
	ItemBudget        int
	MinAnswerLength   int
}

func DefaultConfig() Config {
	return Config{
		GenerationTimeout: DefaultGenerationTimeout,
		WarmupTimeout:     DefaultWarmupTimeout,
		ContextItems:      DefaultContextItems,
		ItemBudget:        DefaultItemBudget,
		MinAnswerLength:   DefaultMinAnswerLength,
	}
}

// Synthesizer owns the warm flag. A nil generator always starts at the
// category fallback.
type Synthesizer struct {
	gen        Generator
	cfg        Config
	rules      []CategoryRule
	classifier *text.BoilerplateClassifier
	warm       atomic.Bool
}

func NewSynthesizer(gen Generator, cfg Config) *Synthesizer {
	return &Synthesizer{
		gen:        gen,
		cfg:        cfg,
		rules:      DefaultRules,
		classifier: text.NewBoilerplateClassifier(),
	}
}

// WarmUp sends the generator a short prompt and records whether it answered.
func (s *Synthesizer) WarmUp(ctx context.Context) error {
	if s.gen == nil {
		return ErrNoGenerator
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WarmupTimeout)
	defer cancel()

	start := time.Now()
	if err := s.gen.WarmUp(ctx); err != nil {
		s.warm.Store(false)
		slog.WarnContext(ctx, "generator warm-up failed", "error", err)
		return err
	}
	s.warm.Store(true)
	slog.InfoContext(ctx, "generator warmed up", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Synthesizer) Ready() bool {
	return s.gen != nil && s.warm.Load()
}

// Synthesize always returns an answer. States only move forward: model,
// then category composer, then the generic redirect.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []retrieval.EvidenceItem, outcome retrieval.Outcome) Answer {
	rule := Classify(s.rules, question)
	ans := Answer{Evidence: evidence, Category: rule.Category}
	if ans.Evidence == nil {
		ans.Evidence = []retrieval.EvidenceItem{}
	}

	if len(evidence) > 0 && s.Ready() {
		used := evidence
		if len(used) > s.cfg.ContextItems {
			used = used[:s.cfg.ContextItems]
		}
		out, err := s.generate(ctx, question, used)
		if err == nil {
			ans.Answer, ans.Sources, ans.Method = out, SourceLabels(used), MethodModelSynthesis
			return ans
		}
		slog.WarnContext(ctx, "model synthesis rejected, using category fallback", "error", err, "category", rule.Category)
	}

	if len(evidence) > 0 {
		if out, pages, ok := Compose(rule, question, evidence, s.classifier); ok {
			ans.Answer, ans.Sources, ans.Method = out, pages, MethodCategoryFallback
			return ans
		}
	}

	out, pages := GenericFallback(question, evidence, outcome)
	ans.Answer, ans.Sources, ans.Method = out, pages, MethodGenericFallback
	if ans.Sources == nil {
		ans.Sources = []string{}
	}
	return ans
}

// NoDocuments is the answer served while the index is empty.
func NoDocuments() Answer {
	return Answer{
		Answer:   noDocumentsText,
		Sources:  []string{},
		Evidence: []retrieval.EvidenceItem{},
		Method:   MethodNoDocuments,
	}
}

func (s *Synthesizer) generate(ctx context.Context, question string, items []retrieval.EvidenceItem) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	raw, err := s.gen.Generate(ctx, BuildPrompt(question, items, s.cfg.ItemBudget))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if marker := failureMarker(raw); marker != "" {
		return "", fmt.Errorf("generation returned failure marker %q", marker)
	}
	cleaned := CleanResponse(raw)
	if utf8.RuneCountInString(cleaned) <= s.cfg.MinAnswerLength {
		return "", fmt.Errorf("generation too short (%d chars)", utf8.RuneCountInString(cleaned))
	}
	return cleaned, nil
}

// BuildPrompt renders the instruction prompt with each item cut to budget runes.
func BuildPrompt(question string, items []retrieval.EvidenceItem, budget int) string {
	var sections strings.Builder
	for i, it := range items {
		body := it.Text
		if budget > 0 && utf8.RuneCountInString(body) > budget {
			body = string([]rune(body)[:budget]) + "..."
		}
		fmt.Fprintf(&sections, "\nSection %d [%s]:\n%s\n", i+1, it.SourceLabel, body)
	}

	return fmt.Sprintf(`You are reading a clinical protocol document. Someone asked you: "%s"

Here are the relevant sections I found in the document:
%s
Answer the question directly using only these sections. Include specific details such as doses, criteria, endpoints or timepoints when they appear, and mention the page when you rely on a section. If the sections do not answer the question, say what they do cover.

Answer:`, strings.TrimSpace(question), sections.String())
}

var failureMarkers = []string{
	"error:",
	"i cannot",
	"i can't",
	"i'm sorry",
	"i am sorry",
	"i am unable",
	"i'm unable",
	"as an ai",
}

func failureMarker(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, m := range failureMarkers {
		if strings.HasPrefix(lower, m) {
			return m
		}
	}
	return ""
}

var (
	metaCommentary = []*regexp.Regexp{
		regexp.MustCompile(`(?i)based on (the|these) (sections?|documents?|text),?\s*`),
		regexp.MustCompile(`(?i)according to (the|these) (sections?|documents?),?\s*`),
		regexp.MustCompile(`(?i)from what i (can see|read|understand),?\s*`),
		regexp.MustCompile(`(?i)looking at (the|these) (sections?|documents?),?\s*`),
		regexp.MustCompile(`(?i)the (document|protocol|text) (states|mentions|indicates|shows)( that)?,?\s*`),
	}
	bulletGlyphs = strings.NewReplacer("•", "-", "◦", "-", "▪", "-")
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// CleanResponse strips meta-commentary, normalises bullets, collapses blank
// runs and ensures terminal punctuation.
func CleanResponse(raw string) string {
	out := raw
	for _, re := range metaCommentary {
		out = re.ReplaceAllString(out, "")
	}
	out = bulletGlyphs.Replace(out)
	out = blankRuns.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	if out == "" {
		return out
	}
	if r, _ := utf8.DecodeLastRuneInString(out); !strings.ContainsRune(".!?", r) {
		out += "."
	}
	return capitalizeFirst(out)
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r >= 'a' && r <= 'z' {
		return strings.ToUpper(string(r)) + s[size:]
	}
	return s
}
