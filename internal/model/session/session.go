// Package session defines the state carried by one live hearing
// session: the utterance log, the extraction map, hypotheses and
// generated suggestions.
package session

import (
	"time"

	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
)

// Status tracks the session lifecycle. The only transition is
// active -> completed and it is irreversible.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Speaker identifies which side of the interview produced an
// utterance.
type Speaker string

const (
	SpeakerSelf  Speaker = "self"  // the advisor running the hearing
	SpeakerOther Speaker = "other" // the seller being interviewed
)

// ParseSpeaker normalizes a raw speaker token, defaulting to the
// seller side the way the transcription feed does.
func ParseSpeaker(raw string) Speaker {
	if Speaker(raw) == SpeakerSelf {
		return SpeakerSelf
	}
	return SpeakerOther
}

// Utterance is one finalized or interim speaker turn. Text is
// immutable once created; only the pin fields may change afterwards.
type Utterance struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	IsPinned  bool      `json:"is_pinned"`
	PinNote   string    `json:"pin_note,omitempty"`
}

// Hypothesis is a working theory about the target company, collected
// as evidence accumulates and fed back into suggestion prompts.
type Hypothesis struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Evidence   []string  `json:"evidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// State is the full durable state of one session. It is owned by the
// registry; callers only ever see copies.
type State struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	Status       Status        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Utterances   []Utterance   `json:"utterances"`
	Extractions  Map           `json:"extractions"`
	Hypotheses   []Hypothesis  `json:"hypotheses"`
	CurrentLayer catalog.Layer `json:"current_layer"`
}

// Summary is returned when a session ends.
type Summary struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds"`
	ExtractionCount int        `json:"extraction_count"`
	UtteranceCount  int        `json:"utterance_count"`
}
