package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"protoqa/internal/synthesis"
	"protoqa/internal/worker"
)

// DefaultConcurrency caps how many key questions are answered at once.
const DefaultConcurrency = 3

const noApprovedSummary = "No sections were approved for inclusion in the final summary. Please review and approve relevant sections to generate a comprehensive summary."

type Answerer interface {
	Answer(ctx context.Context, question string) (synthesis.Answer, error)
}

type Review struct {
	Message       string `json:"message"`
	ApprovedCount int    `json:"approved_sections_count"`
	FinalSummary  string `json:"final_summary"`
}

type Service struct {
	answerer    Answerer
	pool        *worker.Pool
	questions   []KeyQuestion
	concurrency int
	now         func() time.Time
}

func NewService(a Answerer, pool *worker.Pool) *Service {
	return &Service{
		answerer:    a,
		pool:        pool,
		questions:   KeyQuestions,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
}

// Extract answers every key question and returns the usable sections in
// KeyQuestions order. A question that fails or only yields a redirect is
// left out.
func (s *Service) Extract(ctx context.Context) ([]Section, error) {
	results := make([]*Section, len(s.questions))
	errs := worker.ForEach(ctx, s.pool, len(s.questions), s.concurrency, func(ctx context.Context, i int) error {
		kq := s.questions[i]
		ans, err := s.answerer.Answer(ctx, kq.Question)
		if err != nil {
			return fmt.Errorf("%s: %w", kq.Title, err)
		}
		results[i] = buildSection(kq, ans)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections := make([]Section, 0, len(results))
	for i, sec := range results {
		if errs[i] != nil {
			slog.WarnContext(ctx, "key section extraction failed", "section", s.questions[i].Title, "error", errs[i])
			continue
		}
		if sec != nil {
			sections = append(sections, *sec)
		}
	}
	slog.InfoContext(ctx, "key sections extracted", "count", len(sections), "asked", len(s.questions))
	return sections, nil
}

func buildSection(kq KeyQuestion, ans synthesis.Answer) *Section {
	switch ans.Method {
	case synthesis.MethodModelSynthesis, synthesis.MethodCategoryFallback:
	default:
		return nil
	}
	sources := ans.Sources
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	if sources == nil {
		sources = []string{}
	}
	return &Section{
		Title:         kq.Title,
		Description:   kq.Description,
		Content:       CleanContent(ans.Answer),
		Confidence:    Confidence(len(ans.Sources), len(ans.Evidence)),
		Sources:       sources,
		EvidenceCount: len(ans.Evidence),
	}
}

type summaryGroup struct {
	name     string
	keywords []string
}

// summaryGroups are checked in order; the last group catches everything.
var summaryGroups = []summaryGroup{
	{"Study Overview", []string{"objective", "purpose", "drug", "compound"}},
	{"Objectives & Endpoints", []string{"endpoint", "outcome", "measure"}},
	{"Participant Criteria", []string{"inclusion", "exclusion", "criteria", "eligible"}},
	{"Safety & Monitoring", []string{"safety", "monitoring", "adverse", "risk"}},
	{"Additional Information", nil},
}

// Review builds an executive summary from the approved sections.
func (s *Service) Review(ctx context.Context, sections []Section) Review {
	var approved []Section
	for _, sec := range sections {
		if sec.Approved {
			approved = append(approved, sec)
		}
	}
	if len(approved) == 0 {
		return Review{Message: "No sections were approved", FinalSummary: noApprovedSummary}
	}

	slog.InfoContext(ctx, "building executive summary", "approved", len(approved))
	return Review{
		Message:       "Review completed successfully",
		ApprovedCount: len(approved),
		FinalSummary:  s.summarize(approved),
	}
}

func (s *Service) summarize(approved []Section) string {
	grouped := make([][]string, len(summaryGroups))
	for _, sec := range approved {
		g := groupFor(sec.Title)
		grouped[g] = append(grouped[g], fmt.Sprintf("**%s:** %s", sec.Title, cleanSummaryContent(sec.Content)))
	}

	var b strings.Builder
	b.WriteString("# CLINICAL PROTOCOL EXECUTIVE SUMMARY\n\n")
	for i, entries := range grouped {
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", strings.ToUpper(summaryGroups[i].name))
		for _, e := range entries {
			b.WriteString(e)
			b.WriteString("\n\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("---\n")
	fmt.Fprintf(&b, "*This executive summary was generated from %d approved sections extracted from the clinical protocol document. Generated on %s.*",
		len(approved), s.now().Format("January 02, 2006 at 15:04"))
	return b.String()
}

func groupFor(title string) int {
	lower := strings.ToLower(title)
	for i, g := range summaryGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return i
			}
		}
	}
	return len(summaryGroups) - 1
}
