package synthesis

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"protoqa/internal/retrieval"
	"protoqa/internal/text"
)

// generalItemLimit bounds how many evidence items the general composer reads.
const generalItemLimit = 3

var questionStopwords = map[string]struct{}{
	"what": {}, "which": {}, "when": {}, "where": {}, "does": {}, "this": {}, "that": {},
	"with": {}, "about": {}, "there": {}, "their": {}, "have": {}, "will": {}, "from": {},
	"tell": {}, "study": {}, "protocol": {}, "trial": {}, "document": {}, "please": {},
}

// Compose runs rule's sentence selection over evidence. It reports false when
// no sentence qualifies, which hands over to the generic fallback.
func Compose(rule CategoryRule, question string, evidence []retrieval.EvidenceItem, classifier *text.BoilerplateClassifier) (string, []string, bool) {
	keywords := rule.Keywords
	items := evidence
	if rule.Category == CategoryGeneral {
		keywords = questionKeywords(question)
		if len(items) > generalItemLimit {
			items = items[:generalItemLimit]
		}
	}
	if len(keywords) == 0 || rule.MaxSentences <= 0 {
		return "", nil, false
	}

	var picked []string
	var contributing []retrieval.EvidenceItem
	seen := make(map[string]struct{})
	for _, item := range items {
		if len(picked) == rule.MaxSentences {
			break
		}
		src := item.OriginalText
		if src == "" {
			src = item.Text
		}
		best, bestHits := "", 0
		for _, s := range splitSentences(src) {
			if utf8.RuneCountInString(s) < rule.MinLength || classifier.Match(s) != "" {
				continue
			}
			if hits := countHits(strings.ToLower(s), keywords); hits > bestHits {
				best, bestHits = s, hits
			}
		}
		if bestHits == 0 {
			continue
		}
		key := strings.ToLower(best)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		picked = append(picked, best)
		contributing = append(contributing, item)
	}
	if len(picked) == 0 {
		return "", nil, false
	}

	pages := SourceLabels(contributing)
	intro := rule.intro(question)
	if strings.Contains(intro, "%s") {
		intro = fmt.Sprintf(intro, strings.ToLower(strings.TrimRight(strings.TrimSpace(question), "?.! ")))
	}

	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	b.WriteString(stitch(picked, rule.Middle, rule.Last))
	b.WriteString("\n\n*")
	b.WriteString(fmt.Sprintf(rule.Attribution, strings.Join(pages, ", ")))
	b.WriteString("*")
	return b.String(), pages, true
}

func stitch(sentences []string, middle, last string) string {
	parts := make([]string, len(sentences))
	for i, s := range sentences {
		switch {
		case i == 0:
			parts[i] = s + "."
		case i == len(sentences)-1:
			parts[i] = last + " " + lowerFirst(s) + "."
		default:
			parts[i] = middle + " " + lowerFirst(s) + "."
		}
	}
	return strings.Join(parts, " ")
}

// splitSentences breaks text at line ends and at terminators followed by
// whitespace. Pieces are whitespace-normalised with the terminator removed.
func splitSentences(s string) []string {
	var out []string
	flush := func(piece string) {
		piece = strings.TrimRight(text.NormalizeWhitespace(piece), ".!?")
		if piece != "" {
			out = append(out, piece)
		}
	}

	runes := []rune(s)
	start := 0
	for i, r := range runes {
		switch {
		case r == '\n':
			flush(string(runes[start:i]))
			start = i + 1
		case (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			flush(string(runes[start : i+1]))
			start = i + 1
		}
	}
	flush(string(runes[start:]))
	return out
}

func countHits(lower string, keywords []string) int {
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return hits
}

func questionKeywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	var out []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 4 {
			continue
		}
		if _, stop := questionStopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// lowerFirst lowercases a leading capital unless the word is an acronym.
func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 || !unicode.IsUpper(r[0]) {
		return s
	}
	if len(r) > 1 && unicode.IsUpper(r[1]) {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// SourceLabels returns the distinct labels of items ordered by page number.
func SourceLabels(items []retrieval.EvidenceItem) []string {
	type labelled struct {
		page  int
		label string
	}
	seen := make(map[string]struct{})
	var ls []labelled
	for _, it := range items {
		if _, ok := seen[it.SourceLabel]; ok {
			continue
		}
		seen[it.SourceLabel] = struct{}{}
		ls = append(ls, labelled{it.PageNumber, it.SourceLabel})
	}
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].page < ls[j].page })

	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.label
	}
	return out
}

const (
	noDocumentsText    = "I don't have any documents loaded. Please upload a clinical protocol document first, and I'll read it to answer your questions."
	noEvidenceText     = "I searched through the document but couldn't find relevant information about '%s'. Could you try asking about a different aspect of the protocol?"
	administrativeText = "The passages that matched '%s' were administrative parts of the protocol, such as headers, stamps or signature pages, rather than study content. Try asking about a specific topic like the objectives, eligibility criteria or dosing."
	redirectText       = "I found some information related to '%s' on %s. Could you ask a more specific question to help me provide a better answer? For example, you might ask about specific aspects like safety measures, study design, or participant criteria."
)

// GenericFallback never fails: it redirects to the pages with some relevance
// or explains why nothing could be used.
func GenericFallback(question string, evidence []retrieval.EvidenceItem, outcome retrieval.Outcome) (string, []string) {
	q := strings.TrimSpace(question)
	if len(evidence) > 0 {
		pages := SourceLabels(evidence)
		return fmt.Sprintf(redirectText, q, strings.Join(pages, ", ")), pages
	}
	if outcome == retrieval.OutcomeAdministrativeOnly {
		return fmt.Sprintf(administrativeText, q), nil
	}
	return fmt.Sprintf(noEvidenceText, q), nil
}
