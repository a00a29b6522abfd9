package feedback

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidFeedback = errors.New("invalid feedback")

type Reaction string

const (
	ReactionLike         Reaction = "like"
	ReactionDislike      Reaction = "dislike"
	ReactionCopy         Reaction = "copy"
	ReactionViewEvidence Reaction = "view_evidence"
)

func (r Reaction) Valid() bool {
	switch r {
	case ReactionLike, ReactionDislike, ReactionCopy, ReactionViewEvidence:
		return true
	}
	return false
}

// Feedback is a user reaction to one answer.
type Feedback struct {
	ID              string                 `json:"id"`
	MessageID       string                 `json:"message_id"`
	Question        string                 `json:"question"`
	Answer          string                 `json:"answer,omitempty"`
	ReactionType    Reaction               `json:"reaction_type"`
	UserSession     string                 `json:"user_session,omitempty"`
	Sources         []string               `json:"sources"`
	EvidenceCount   int                    `json:"evidence_count"`
	ConfidenceScore float64                `json:"confidence_score"`
	AdditionalData  map[string]interface{} `json:"additional_data,omitempty"`
	CreatedAt       time.Time              `json:"timestamp"`
}

func (f *Feedback) Validate() error {
	if f.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalidFeedback)
	}
	if f.Question == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidFeedback)
	}
	if !f.ReactionType.Valid() {
		return fmt.Errorf("%w: unknown reaction_type %q", ErrInvalidFeedback, f.ReactionType)
	}
	if f.ConfidenceScore < 0 || f.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence_score must be in [0, 1]", ErrInvalidFeedback)
	}
	return nil
}

// Question is one answered question, counted for analytics.
type Question struct {
	UserSession string
	Question    string
	Method      string
	Category    string
}

// Counts are the raw aggregates over a time window.
type Counts struct {
	Questions     int
	Likes         int
	Dislikes      int
	Copies        int
	EvidenceViews int
	AvgConfidence float64
}

type Stats struct {
	TotalQuestions     int     `json:"total_questions"`
	TotalLikes         int     `json:"total_likes"`
	TotalDislikes      int     `json:"total_dislikes"`
	TotalCopies        int     `json:"total_copies"`
	TotalEvidenceViews int     `json:"total_evidence_views"`
	SatisfactionRate   float64 `json:"satisfaction_rate"`
	AvgConfidence      float64 `json:"avg_confidence"`
}
