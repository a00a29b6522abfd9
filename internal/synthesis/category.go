package synthesis

import "strings"

// Category selects the composer used when model synthesis is unavailable.
type Category string

const (
	CategoryObjective Category = "objective"
	CategoryDrug      Category = "drug"
	CategorySafety    Category = "safety"
	CategoryCriteria  Category = "criteria"
	CategoryDesign    Category = "design"
	CategoryDose      Category = "dose"
	CategoryGeneral   Category = "general"
)

// IntroVariant replaces the rule's intro when the question contains When.
type IntroVariant struct {
	When string
	Text string
}

// CategoryRule is one row of the composer table. Triggers are matched against
// the lowercased question; Keywords score candidate sentences.
type CategoryRule struct {
	Category     Category
	Triggers     []string
	Keywords     []string
	MinLength    int
	MaxSentences int
	Intro        string
	Intros       []IntroVariant
	// Attribution is a format string taking the joined page labels.
	Attribution string
	Middle      string
	Last        string
}

// DefaultRules are evaluated in order; the first rule with a trigger in the
// question wins.
var DefaultRules = []CategoryRule{
	{
		Category:     CategoryDrug,
		Triggers:     []string{"drug", "medication", "compound", "investigational product"},
		Keywords:     []string{"drug", "compound", "investigational", "study treatment", "medication", "administered"},
		MinLength:    20,
		MaxSentences: 2,
		Intro:        "Here's what the protocol says about the study drug:",
		Attribution:  "This information comes from %s of the protocol document.",
		Middle:       "Furthermore,",
		Last:         "Additionally,",
	},
	{
		Category:     CategoryObjective,
		Triggers:     []string{"objective", "purpose", "goal", "endpoint", "aim of"},
		Keywords:     []string{"objective", "purpose", "endpoint", "evaluate", "determine", "assess"},
		MinLength:    30,
		MaxSentences: 3,
		Intro:        "Here are the main objectives and goals of this study:",
		Attribution:  "Study objectives from %s.",
		Middle:       "Furthermore,",
		Last:         "Additionally,",
	},
	{
		Category:     CategorySafety,
		Triggers:     []string{"safety", "adverse", "side effect", "tolerability", "risk"},
		Keywords:     []string{"safety", "adverse", "monitor", "tolerab", "risk"},
		MinLength:    30,
		MaxSentences: 3,
		Intro:        "Here's what I found about safety in this study:",
		Attribution:  "Safety information from %s.",
		Middle:       "Furthermore,",
		Last:         "Additionally,",
	},
	{
		Category:     CategoryCriteria,
		Triggers:     []string{"inclusion", "exclusion", "criteria", "eligib"},
		Keywords:     []string{"criteria", "eligible", "must", "cannot", "inclusion", "exclusion"},
		MinLength:    25,
		MaxSentences: 4,
		Intro:        "Here are the participant eligibility requirements:",
		Intros: []IntroVariant{
			{When: "inclusion", Text: "Here are the key requirements for participants to join this study:"},
			{When: "exclusion", Text: "Participants cannot join this study if they meet these conditions:"},
		},
		Attribution: "Eligibility criteria from %s.",
		Middle:      "Also,",
		Last:        "Additionally,",
	},
	{
		Category:     CategoryDesign,
		Triggers:     []string{"design", "randomi", "methodology", "blind", "phase"},
		Keywords:     []string{"design", "randomi", "placebo", "blind", "phase", "cohort", "arm"},
		MinLength:    30,
		MaxSentences: 3,
		Intro:        "Here's how this study is designed:",
		Attribution:  "Study design details from %s.",
		Middle:       "Furthermore,",
		Last:         "Additionally,",
	},
	{
		Category:     CategoryDose,
		Triggers:     []string{"dose", "dosage", "dosing", "regimen", "schedule", " mg"},
		Keywords:     []string{"dose", "mg", "daily", "administered", "regimen", "schedule"},
		MinLength:    20,
		MaxSentences: 3,
		Intro:        "Here's what the protocol says about dosing:",
		Attribution:  "Dosing information from %s.",
		Middle:       "Furthermore,",
		Last:         "Additionally,",
	},
}

// GeneralRule composes from sentences sharing words with the question.
var GeneralRule = CategoryRule{
	Category:     CategoryGeneral,
	MinLength:    40,
	MaxSentences: 3,
	Intro:        "Regarding your question about %s, here's what I found:",
	Attribution:  "This information is from %s of the protocol.",
	Middle:       "Furthermore,",
	Last:         "Additionally,",
}

// Classify returns the first rule triggered by question, or GeneralRule.
func Classify(rules []CategoryRule, question string) CategoryRule {
	q := strings.ToLower(question)
	for _, r := range rules {
		for _, t := range r.Triggers {
			if strings.Contains(q, t) {
				return r
			}
		}
	}
	return GeneralRule
}

func (r CategoryRule) intro(question string) string {
	q := strings.ToLower(question)
	for _, v := range r.Intros {
		if strings.Contains(q, v.When) {
			return v.Text
		}
	}
	return r.Intro
}
