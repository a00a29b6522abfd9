package retrieval

import (
	"strings"
	"unicode"
)

// Expansion is one row of the synonym table. Key may span several words.
type Expansion struct {
	Key   string
	Terms []string
}

// DefaultExpansions is ordered: on equal word counts the earlier row wins, so
// single-word concepts sit before the multi-word ones that refine them.
var DefaultExpansions = []Expansion{
	{Key: "objective", Terms: []string{"purpose", "aim", "primary endpoint", "hypothesis"}},
	{Key: "purpose", Terms: []string{"objective", "aim", "goal"}},
	{Key: "endpoint", Terms: []string{"outcome measure", "assessment", "efficacy"}},
	{Key: "drug", Terms: []string{"medication", "compound", "study treatment", "investigational product"}},
	{Key: "medication", Terms: []string{"drug", "compound", "treatment"}},
	{Key: "safety", Terms: []string{"adverse event", "side effect", "tolerability", "monitoring"}},
	{Key: "inclusion", Terms: []string{"criteria", "eligible", "enrollment", "participant"}},
	{Key: "exclusion", Terms: []string{"criteria", "ineligible", "excluded", "participant"}},
	{Key: "criteria", Terms: []string{"inclusion", "exclusion", "eligible", "enrollment"}},
	{Key: "design", Terms: []string{"methodology", "randomized", "controlled", "phase"}},
	{Key: "dose", Terms: []string{"dosage", "mg", "administration", "regimen"}},
	{Key: "dosage", Terms: []string{"dose", "mg", "regimen", "schedule"}},
	{Key: "primary endpoint", Terms: []string{"primary objective", "outcome measure", "efficacy"}},
	{Key: "secondary endpoint", Terms: []string{"secondary objective", "outcome measure", "exploratory"}},
	{Key: "study drug", Terms: []string{"investigational product", "medication", "compound"}},
	{Key: "adverse event", Terms: []string{"safety", "side effect", "tolerability", "serious adverse event"}},
	{Key: "side effect", Terms: []string{"adverse event", "safety", "tolerability"}},
	{Key: "eligibility criteria", Terms: []string{"inclusion", "exclusion", "enrollment"}},
	{Key: "study design", Terms: []string{"methodology", "randomized", "phase", "trial"}},
}

// DefaultGenericTerms mark a question as already clinical in tone.
var DefaultGenericTerms = []string{"study", "protocol", "trial", "clinical", "patient", "participant"}

const (
	DefaultMaxTerms    = 3
	DefaultBoilerplate = "clinical trial protocol study"
)

// Expander rewrites a question into a richer embedding query. The original
// question is always kept as the prefix of the result.
type Expander struct {
	Entries      []Expansion
	GenericTerms []string
	Boilerplate  string
	MaxTerms     int
}

func NewExpander() *Expander {
	return &Expander{
		Entries:      DefaultExpansions,
		GenericTerms: DefaultGenericTerms,
		Boilerplate:  DefaultBoilerplate,
		MaxTerms:     DefaultMaxTerms,
	}
}

// Match returns the winning table row for question. A row matches when every
// word of its key is present; the row with the most key words wins.
func (e *Expander) Match(question string) (Expansion, bool) {
	words := wordSet(question)
	best, bestScore := -1, 0
	for i, entry := range e.Entries {
		keyWords := strings.Fields(entry.Key)
		score := 0
		for _, w := range keyWords {
			if hasWord(words, w) {
				score++
			}
		}
		if score < len(keyWords) {
			continue
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Expansion{}, false
	}
	return e.Entries[best], true
}

func (e *Expander) Expand(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return q
	}
	lower := strings.ToLower(q)

	entry, ok := e.Match(q)
	if !ok {
		words := wordSet(q)
		for _, g := range e.GenericTerms {
			if hasWord(words, g) {
				return q
			}
		}
		if e.Boilerplate == "" {
			return q
		}
		return q + " " + e.Boilerplate
	}

	var added []string
	for _, term := range entry.Terms {
		if len(added) == e.MaxTerms {
			break
		}
		if strings.Contains(lower, term) {
			continue
		}
		added = append(added, term)
	}
	if len(added) == 0 {
		return q
	}
	return q + " " + strings.Join(added, " ")
}

func wordSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// hasWord accepts simple plurals, so "endpoints" matches "endpoint".
func hasWord(words map[string]struct{}, w string) bool {
	for _, form := range []string{w, w + "s", w + "es"} {
		if _, ok := words[form]; ok {
			return true
		}
	}
	return false
}
