package extraction

import (
	"math"
	"regexp"
	"strings"
)

type KeyQuestion struct {
	Question    string
	Title       string
	Description string
}

// KeyQuestions are asked in this order and sections are returned in it.
var KeyQuestions = []KeyQuestion{
	{"What is the primary objective of this study?", "Primary Objective", "Main goal and purpose of the clinical trial"},
	{"What are the inclusion criteria for participants?", "Inclusion Criteria", "Who can participate in this study"},
	{"What are the exclusion criteria for participants?", "Exclusion Criteria", "Who cannot participate in this study"},
	{"What are the primary and secondary endpoints?", "Study Endpoints", "What the study is measuring"},
	{"What safety measures are in place?", "Safety Considerations", "How patient safety is monitored"},
	{"What drug is being tested in this study?", "Study Drug", "Information about the investigational compound"},
}

type Section struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Content       string   `json:"content"`
	Confidence    float64  `json:"confidence"`
	Approved      bool     `json:"approved"`
	Sources       []string `json:"sources"`
	EvidenceCount int      `json:"evidence_count"`
}

const (
	maxSources     = 5
	maxContentLen  = 600
	minSentenceCut = 400
)

// Confidence grows with the number of cited pages and evidence items and
// never exceeds 0.95.
func Confidence(sources, evidence int) float64 {
	c := 0.7 + math.Min(0.2, 0.04*float64(sources)) + math.Min(0.1, 0.02*float64(evidence))
	c = math.Min(0.95, c)
	return math.Round(c*100) / 100
}

var (
	verboseHeader   = regexp.MustCompile(`\*\*(?:About|What|Here).*?:\*\*\n\n`)
	regardingOpener = regexp.MustCompile(`^Regarding your question about.*?, here's what I found:\n\n`)
	foundOpener     = regexp.MustCompile(`^Here's what I found about.*?:\n\n`)
	listOpener      = regexp.MustCompile(`^Here are the.*?:\n\n`)
	infoAttribution = regexp.MustCompile(`(?i)\n\n\*.*?information.*?from.*?\*$`)
	fromAttribution = regexp.MustCompile(`(?i)\n\n\*.*?from.*?\*$`)
	blankRuns       = regexp.MustCompile(`\n{3,}`)
)

// CleanContent strips conversational framing and trailing attribution from an
// answer and caps it for card display, preferring to cut at a sentence end.
func CleanContent(content string) string {
	content = verboseHeader.ReplaceAllString(content, "")
	content = regardingOpener.ReplaceAllString(content, "")
	content = foundOpener.ReplaceAllString(content, "")
	content = listOpener.ReplaceAllString(content, "")
	content = infoAttribution.ReplaceAllString(content, "")
	content = fromAttribution.ReplaceAllString(content, "")
	content = blankRuns.ReplaceAllString(content, "\n\n")
	content = strings.TrimSpace(content)

	r := []rune(content)
	if len(r) <= maxContentLen {
		return content
	}
	if cut := lastIndexRune(r[:maxContentLen], '.'); cut > minSentenceCut {
		return string(r[:cut+1]) + "..."
	}
	return string(r[:maxContentLen]) + "..."
}

func lastIndexRune(r []rune, c rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == c {
			return i
		}
	}
	return -1
}

var (
	summaryOpener = regexp.MustCompile(`(?i)^(?:Here's what I found about|Regarding your question about|The study drug being tested is|Here are the|Here's what I found|This study).*?:\s*`)
)

// cleanSummaryContent prepares an approved section for the executive summary.
func cleanSummaryContent(content string) string {
	content = summaryOpener.ReplaceAllString(content, "")
	content = infoAttribution.ReplaceAllString(content, "")
	content = fromAttribution.ReplaceAllString(content, "")
	content = blankRuns.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
