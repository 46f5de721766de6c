package session

import (
	"time"

	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
)

// SuggestionType distinguishes question prompts from reframing hints.
type SuggestionType string

const (
	SuggestionQuestion  SuggestionType = "question"
	SuggestionReframing SuggestionType = "reframing"
)

// Suggestion is one ranked follow-up proposed to the advisor. Content
// is immutable after creation; only the used/dismissed flags change.
type Suggestion struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Type         SuggestionType `json:"suggestion_type"`
	Content      string         `json:"content"`
	Reason       string         `json:"reason"`
	Layer        catalog.Layer  `json:"layer"`
	Priority     float64        `json:"priority"`
	TargetField  string         `json:"target_field,omitempty"`
	WasUsed      bool           `json:"was_used"`
	WasDismissed bool           `json:"was_dismissed"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Reframing is a positive reinterpretation of a negative statement
// plus the follow-up question that makes it credible.
type Reframing struct {
	OriginalText           string `json:"original_text"`
	NegativeWord           string `json:"negative_word"`
	PositiveInterpretation string `json:"positive_interpretation"`
	FollowUpQuestion       string `json:"follow_up_question"`
	ReframeConditions      string `json:"reframe_conditions"`
}
