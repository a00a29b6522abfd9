package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoilerplateClassifier_IsAdministrative(t *testing.T) {
	c := NewBoilerplateClassifier()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"Short Confidential Stamp", "CONFIDENTIAL", true},
		{"Short Fragment Without Keywords", "Table 4", true},
		{"Page Stamp", "Protocol TAK-653-2001 is described on this header line. Page 12 of 126", true},
		{"Amendment Header", "Protocol Incorporating Amendment No. 3 applies to all sites in this study program.", true},
		{"Version Stamp", "This document describes Version 2.1 of the clinical protocol for the trial sites.", true},
		{"Signature Page", "The signature page must be returned to the sponsor before the first subject is enrolled.", true},
		{"Consent Form", "Each subject signs the informed consent form before any study-specific procedure occurs.", true},
		{"Substantive Objective", "The primary objective of this study is to evaluate the efficacy of the study drug in adults.", false},
		{"Substantive Safety", "Adverse events are collected from the first dose until 30 days after the last dose of treatment.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsAdministrative(tt.text))
		})
	}
}

func TestBoilerplateClassifier_Match(t *testing.T) {
	c := NewBoilerplateClassifier()
	assert.Equal(t, "confidentiality", c.Match("Confidential - do not distribute outside the study team"))
	assert.Equal(t, "", c.Match("Participants receive 10 mg once daily for twelve weeks of treatment."))
}

func TestBoilerplateClassifier_CustomRules(t *testing.T) {
	c := &BoilerplateClassifier{Rules: nil, MinLength: 0}
	assert.False(t, c.IsAdministrative("CONFIDENTIAL"))
}
