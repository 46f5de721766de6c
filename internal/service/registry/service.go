// Package registry owns all session state. Every mutation goes through
// one mutex so concurrent merge paths (automatic cycles, manual edits,
// ingestion) can never interleave inside a session.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
	"github.com/tonari-ai/mna-hearing/internal/model/session"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidFieldKey  = errors.New("invalid field key format")
	ErrSessionCompleted = errors.New("session already completed")
)

// Service is the in-memory session registry. State survives for the
// life of the process; durable persistence is out of scope.
type Service struct {
	mu          sync.RWMutex
	sessions    map[string]*session.State
	suggestions map[string][]session.Suggestion
}

// NewService bootstraps an empty registry.
func NewService() *Service {
	return &Service{
		sessions:    make(map[string]*session.State),
		suggestions: make(map[string][]session.Suggestion),
	}
}

// CreateSession provisions a new active session for a project.
func (s *Service) CreateSession(_ context.Context, projectID string) session.State {
	state := &session.State{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Status:       session.StatusActive,
		StartedAt:    time.Now().UTC(),
		Utterances:   make([]session.Utterance, 0, 64),
		Extractions:  session.NewMap(),
		Hypotheses:   make([]session.Hypothesis, 0, 8),
		CurrentLayer: catalog.Surface,
	}

	s.mu.Lock()
	s.sessions[state.ID] = state
	s.suggestions[state.ID] = make([]session.Suggestion, 0, 16)
	s.mu.Unlock()

	return snapshot(state)
}

// GetSession returns a copy of the session state.
func (s *Service) GetSession(_ context.Context, sessionID string) (session.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return session.State{}, ErrSessionNotFound
	}
	return snapshot(state), nil
}

// EndSession marks the session completed and returns its summary. The
// transition is monotonic: a completed session stays completed.
func (s *Service) EndSession(_ context.Context, sessionID string) (session.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return session.Summary{}, ErrSessionNotFound
	}

	if state.Status != session.StatusCompleted {
		now := time.Now().UTC()
		state.Status = session.StatusCompleted
		state.EndedAt = &now
	}

	var duration *int
	if state.EndedAt != nil && !state.StartedAt.IsZero() {
		secs := int(state.EndedAt.Sub(state.StartedAt).Seconds())
		duration = &secs
	}

	return session.Summary{
		ID:              state.ID,
		ProjectID:       state.ProjectID,
		StartedAt:       state.StartedAt,
		EndedAt:         state.EndedAt,
		DurationSeconds: duration,
		ExtractionCount: state.Extractions.Len(),
		UtteranceCount:  len(state.Utterances),
	}, nil
}

// AppendUtterance stores a finalized utterance at the tail of the log.
// Order of calls is the order observers will ever see.
func (s *Service) AppendUtterance(_ context.Context, u session.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[u.SessionID]
	if !ok {
		return ErrSessionNotFound
	}

	state.Utterances = append(state.Utterances, u)
	return nil
}

// RecentUtterances returns up to n utterances from the tail of the log.
func (s *Service) RecentUtterances(_ context.Context, sessionID string, n int) ([]session.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	start := len(state.Utterances) - n
	if start < 0 {
		start = 0
	}
	return append([]session.Utterance(nil), state.Utterances[start:]...), nil
}

// PinUtterance flags an utterance with an optional note. Unknown
// utterance ids are ignored: pins race with ingestion and losing one
// is harmless.
func (s *Service) PinUtterance(_ context.Context, sessionID, utteranceID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	for i := range state.Utterances {
		if state.Utterances[i].ID == utteranceID {
			state.Utterances[i].IsPinned = true
			state.Utterances[i].PinNote = note
			break
		}
	}
	return nil
}

// SetCurrentLayer moves the session's focus layer.
func (s *Service) SetCurrentLayer(_ context.Context, sessionID string, layer catalog.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	state.CurrentLayer = layer
	return nil
}

// UpdateField applies a manual edit. The key must parse as
// "category.field" with a known category; unknown field names are
// allowed so advisors can note items beyond the catalog. Manual edits
// always carry confidence 1.0 and are protected from automatic
// overwrites.
func (s *Service) UpdateField(_ context.Context, sessionID, fieldKey, value string) (session.Field, error) {
	category, name, err := catalog.ParseKey(fieldKey)
	if err != nil {
		return session.Field{}, errors.Join(ErrInvalidFieldKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return session.Field{}, ErrSessionNotFound
	}

	field, exists := state.Extractions.Get(category, name)
	if !exists {
		field = session.Field{Category: category, Name: name, Layer: catalog.Surface}
		if def, found := catalog.Lookup(category, name); found {
			field.Layer = def.Layer
		}
	}

	field.Value = value
	field.Confidence = 1.0
	field.Manual = true
	state.Extractions.Set(field)

	return field, nil
}

// MergeAutomatic folds an extraction cycle's results into the session.
// Last write wins between automatic cycles, but fields an advisor set
// by hand are never overwritten, and results arriving after the
// session ended are discarded. Returns the fields actually applied.
func (s *Service) MergeAutomatic(_ context.Context, sessionID string, fields []session.Field) ([]session.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if state.Status == session.StatusCompleted {
		return nil, ErrSessionCompleted
	}

	applied := make([]session.Field, 0, len(fields))
	for _, f := range fields {
		if existing, exists := state.Extractions.Get(f.Category, f.Name); exists && existing.Manual {
			continue
		}
		f.Manual = false
		state.Extractions.Set(f)
		applied = append(applied, f)
	}
	return applied, nil
}

// Extractions returns a copy of the session's extraction map.
func (s *Service) Extractions(_ context.Context, sessionID string) (session.Map, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return session.Map{}, ErrSessionNotFound
	}
	return state.Extractions.Clone(), nil
}

// CurrentLayer returns the session's focus layer.
func (s *Service) CurrentLayer(_ context.Context, sessionID string) (catalog.Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return state.CurrentLayer, nil
}

// Hypotheses returns a copy of the session's hypothesis list.
func (s *Service) Hypotheses(_ context.Context, sessionID string) ([]session.Hypothesis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]session.Hypothesis(nil), state.Hypotheses...), nil
}

// AddHypothesis records a new working theory.
func (s *Service) AddHypothesis(_ context.Context, sessionID string, h session.Hypothesis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	state.Hypotheses = append(state.Hypotheses, h)
	return nil
}

// AddSuggestions stores generated suggestions so later used/dismissed
// marks have something to land on. Suggestions arriving after the
// session ended are discarded, same as late extraction merges.
func (s *Service) AddSuggestions(_ context.Context, sessionID string, items []session.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if state.Status == session.StatusCompleted {
		return ErrSessionCompleted
	}
	s.suggestions[sessionID] = append(s.suggestions[sessionID], items...)
	return nil
}

// Suggestions returns a copy of every suggestion generated for the
// session so far.
func (s *Service) Suggestions(_ context.Context, sessionID string) ([]session.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	return append([]session.Suggestion(nil), s.suggestions[sessionID]...), nil
}

// MarkSuggestionUsed flags a suggestion as used by the advisor.
func (s *Service) MarkSuggestionUsed(_ context.Context, sessionID, suggestionID string) error {
	return s.markSuggestion(sessionID, suggestionID, func(sg *session.Suggestion) {
		sg.WasUsed = true
	})
}

// MarkSuggestionDismissed flags a suggestion as dismissed.
func (s *Service) MarkSuggestionDismissed(_ context.Context, sessionID, suggestionID string) error {
	return s.markSuggestion(sessionID, suggestionID, func(sg *session.Suggestion) {
		sg.WasDismissed = true
	})
}

func (s *Service) markSuggestion(sessionID, suggestionID string, apply func(*session.Suggestion)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}

	items := s.suggestions[sessionID]
	for i := range items {
		if items[i].ID == suggestionID {
			apply(&items[i])
			break
		}
	}
	return nil
}

// snapshot copies a session so callers never alias registry-owned
// slices or maps.
func snapshot(state *session.State) session.State {
	copied := *state
	copied.Utterances = append([]session.Utterance(nil), state.Utterances...)
	copied.Hypotheses = append([]session.Hypothesis(nil), state.Hypotheses...)
	copied.Extractions = state.Extractions.Clone()
	return copied
}
