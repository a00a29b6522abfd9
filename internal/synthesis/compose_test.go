package synthesis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protoqa/internal/retrieval"
	"protoqa/internal/text"
)

func item(page int, body string, score float64) retrieval.EvidenceItem {
	return retrieval.EvidenceItem{
		Text:           text.NormalizeWhitespace(body),
		OriginalText:   body,
		PageNumber:     page,
		SourceLabel:    text.SourceLabel(page),
		RelevanceScore: score,
	}
}

func TestCompose_Safety(t *testing.T) {
	evidence := []retrieval.EvidenceItem{
		item(4, "Vital signs are collected at screening. Adverse events will be monitored at every visit by the investigator.", 0.9),
		item(2, "An independent committee reviews safety data every three months during the trial.", 0.8),
		item(7, "Serious adverse events must be reported to the sponsor within 24 hours of awareness.", 0.7),
		item(9, "Adverse events will be monitored at every visit by the investigator.", 0.6),
	}

	rule := Classify(DefaultRules, "What safety monitoring is planned?")
	answer, pages, ok := Compose(rule, "What safety monitoring is planned?", evidence, text.NewBoilerplateClassifier())
	require.True(t, ok)

	assert.True(t, strings.HasPrefix(answer, "Here's what I found about safety in this study:\n\n"))
	assert.Contains(t, answer, "Adverse events will be monitored at every visit by the investigator.")
	assert.Contains(t, answer, "Furthermore, an independent committee reviews safety data")
	assert.Contains(t, answer, "Additionally, serious adverse events must be reported")
	assert.NotContains(t, answer, "Vital signs")
	assert.Equal(t, []string{"Page 2", "Page 4", "Page 7"}, pages)
	assert.True(t, strings.HasSuffix(answer, "*Safety information from Page 2, Page 4, Page 7.*"))
}

func TestCompose_DedupAndCap(t *testing.T) {
	same := "Participants must be aged 18 to 65 years at screening."
	evidence := []retrieval.EvidenceItem{
		item(3, same, 0.9),
		item(5, same, 0.8),
		item(6, "Participants cannot have received another investigational drug within 30 days.", 0.7),
		item(8, "Eligible participants must provide written informed consent before any procedure.", 0.6),
		item(10, "Women of childbearing potential must use contraception during the study.", 0.5),
		item(11, "Participants must not have a history of seizures according to the criteria.", 0.4),
	}

	rule := Classify(DefaultRules, "What are the inclusion criteria?")
	answer, pages, ok := Compose(rule, "What are the inclusion criteria?", evidence, text.NewBoilerplateClassifier())
	require.True(t, ok)

	assert.Equal(t, 1, strings.Count(answer, "aged 18 to 65"))
	assert.Contains(t, answer, "Here are the key requirements for participants to join this study:")
	assert.Contains(t, answer, "Also, participants cannot have received")
	assert.NotContains(t, answer, "history of seizures", "capped at four sentences")
	assert.Equal(t, []string{"Page 3", "Page 6", "Page 8", "Page 10"}, pages)
}

func TestCompose_SkipsBoilerplateSentences(t *testing.T) {
	evidence := []retrieval.EvidenceItem{
		item(1, "CONFIDENTIAL study drug accountability log must be kept by the pharmacist.\nThe study drug is administered as an oral tablet once daily.", 0.9),
	}
	rule := Classify(DefaultRules, "What is the study drug?")
	answer, _, ok := Compose(rule, "What is the study drug?", evidence, text.NewBoilerplateClassifier())
	require.True(t, ok)
	assert.NotContains(t, answer, "CONFIDENTIAL")
	assert.Contains(t, answer, "The study drug is administered as an oral tablet once daily.")
}

func TestCompose_General(t *testing.T) {
	evidence := []retrieval.EvidenceItem{
		item(2, "The sponsor of the study is responsible for monitoring data quality across all sites.", 0.5),
		item(3, "Unrelated text about laboratory sample handling and storage temperatures here.", 0.4),
	}
	answer, pages, ok := Compose(GeneralRule, "Who is the sponsor?", evidence, text.NewBoilerplateClassifier())
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(answer, "Regarding your question about who is the sponsor, here's what I found:"))
	assert.Equal(t, []string{"Page 2"}, pages)
}

func TestCompose_NothingQualifies(t *testing.T) {
	evidence := []retrieval.EvidenceItem{item(2, "Laboratory samples are stored at minus eighty degrees until shipment.", 0.5)}

	_, _, ok := Compose(Classify(DefaultRules, "What is the dose?"), "What is the dose?", evidence, text.NewBoilerplateClassifier())
	assert.False(t, ok)

	_, _, ok = Compose(GeneralRule, "Why?", evidence, text.NewBoilerplateClassifier())
	assert.False(t, ok, "no usable question keywords")
}

func TestGenericFallback(t *testing.T) {
	t.Run("Redirects To Pages", func(t *testing.T) {
		answer, pages := GenericFallback("What about X?", []retrieval.EvidenceItem{item(5, "a", 0.3), item(2, "b", 0.2), item(5, "c", 0.1)}, retrieval.OutcomeFound)
		assert.Equal(t, []string{"Page 2", "Page 5"}, pages)
		assert.Contains(t, answer, "on Page 2, Page 5")
	})

	t.Run("Administrative Only", func(t *testing.T) {
		answer, pages := GenericFallback("Who signed?", nil, retrieval.OutcomeAdministrativeOnly)
		assert.Empty(t, pages)
		assert.Contains(t, answer, "administrative parts of the protocol")
	})

	t.Run("No Evidence", func(t *testing.T) {
		answer, pages := GenericFallback("Who signed?", nil, retrieval.OutcomeNoEvidence)
		assert.Empty(t, pages)
		assert.Contains(t, answer, "couldn't find relevant information about 'Who signed?'")
	})
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First sentence here. Second one?  Third\nline without stop\n\nv1.2 stays intact.")
	assert.Equal(t, []string{"First sentence here", "Second one", "Third", "line without stop", "v1.2 stays intact"}, got)
}

func TestLowerFirst(t *testing.T) {
	assert.Equal(t, "adverse events", lowerFirst("Adverse events"))
	assert.Equal(t, "TAK-653 is given", lowerFirst("TAK-653 is given"))
	assert.Equal(t, "", lowerFirst(""))
}
