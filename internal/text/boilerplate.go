package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// BoilerplateRule names one document-management pattern.
type BoilerplateRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultBoilerplateRules covers headers, stamps and consent/signature pages
// that show up on protocol pages without answering anything.
var DefaultBoilerplateRules = []BoilerplateRule{
	{Name: "confidentiality", Pattern: regexp.MustCompile(`(?i)\bconfidential\b`)},
	{Name: "amendment_stamp", Pattern: regexp.MustCompile(`(?i)\bamendment\s+no\.`)},
	{Name: "amendment_header", Pattern: regexp.MustCompile(`(?i)\bprotocol\s+incorporating\s+amendment`)},
	{Name: "page_stamp", Pattern: regexp.MustCompile(`(?i)\bpage\s+\d+\s+of\s+\d+\b`)},
	{Name: "version_stamp", Pattern: regexp.MustCompile(`(?i)\bversion\s*(no\.?\s*)?\d+(\.\d+)*\b`)},
	{Name: "study_number", Pattern: regexp.MustCompile(`(?i)\bstudy\s+no\.`)},
	{Name: "signature_page", Pattern: regexp.MustCompile(`(?i)\bsignature\s+page\b`)},
	{Name: "source_documents", Pattern: regexp.MustCompile(`(?i)\bsource\s+documents?\b`)},
	{Name: "drug_accountability", Pattern: regexp.MustCompile(`(?i)\bdrug\s+accountability\s+log\b`)},
	{Name: "regulatory_filing", Pattern: regexp.MustCompile(`(?i)\bregulatory\s+filings?\b`)},
	{Name: "investigator_acknowledgement", Pattern: regexp.MustCompile(`(?i)\binvestigator\s+acknowledges\b`)},
	{Name: "consent_form", Pattern: regexp.MustCompile(`(?i)\binformed\s+consent\s+form\b`)},
	{Name: "subject_authorization", Pattern: regexp.MustCompile(`(?i)\bwritten\s+subject\s+authori[sz]ation\b`)},
	{Name: "personal_information", Pattern: regexp.MustCompile(`(?i)\bconsents?\s+to\s+the\s+use\s+of\b.*\bpersonal\s+information\b`)},
}

// DefaultMinSubstantiveLength is the shortest text treated as content.
const DefaultMinSubstantiveLength = 50

type BoilerplateClassifier struct {
	Rules     []BoilerplateRule
	MinLength int
}

func NewBoilerplateClassifier() *BoilerplateClassifier {
	return &BoilerplateClassifier{Rules: DefaultBoilerplateRules, MinLength: DefaultMinSubstantiveLength}
}

// IsAdministrative reports whether text is too short to be substantive or
// matches any boilerplate rule.
func (c *BoilerplateClassifier) IsAdministrative(text string) bool {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < c.MinLength {
		return true
	}
	return c.Match(t) != ""
}

// Match returns the name of the first rule matching text, or "".
func (c *BoilerplateClassifier) Match(text string) string {
	for _, r := range c.Rules {
		if r.Pattern.MatchString(text) {
			return r.Name
		}
	}
	return ""
}
