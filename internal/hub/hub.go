// Package hub fans out session events to every connected observer.
// A send failure is treated as a disconnect: the observer is dropped
// on the spot with no retry, and the rest of the set is unaffected.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Outbound event kinds.
const (
	KindTranscript       = "transcript"
	KindExtractionUpdate = "extraction_update"
	KindSuggestion       = "suggestion"
	KindReframing        = "reframing"
	KindError            = "error"
	KindSessionStatus    = "session_status"
)

// Message is the envelope every observer receives.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage stamps an envelope with the current time.
func NewMessage(kind string, data any) Message {
	return Message{Type: kind, Data: data, Timestamp: time.Now().UnixMilli()}
}

// Observer is one delivery target. Send must be safe for concurrent
// use by the hub; a returned error means the connection is gone.
type Observer interface {
	Send(payload []byte) error
}

// Hub tracks observer sets per session.
type Hub struct {
	mu        sync.Mutex
	observers map[string][]Observer

	// onEmpty fires after the last observer of a session leaves, so
	// the ingestion layer can discard that session's rolling buffer.
	onEmpty func(sessionID string)
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{observers: make(map[string][]Observer)}
}

// SetOnEmpty installs the last-observer-left hook. Call before serving
// traffic; the hook runs outside the hub lock.
func (h *Hub) SetOnEmpty(fn func(sessionID string)) {
	h.onEmpty = fn
}

// Connect registers an observer, creating the session's set lazily.
func (h *Hub) Connect(sessionID string, o Observer) {
	h.mu.Lock()
	h.observers[sessionID] = append(h.observers[sessionID], o)
	count := len(h.observers[sessionID])
	h.mu.Unlock()

	log.Printf("[hub] observer connected session=%s observers=%d", sessionID, count)
}

// Disconnect removes one observer. When the set empties the session
// entry is dropped and the onEmpty hook fires.
func (h *Hub) Disconnect(sessionID string, o Observer) {
	h.mu.Lock()
	emptied := h.removeLocked(sessionID, o)
	h.mu.Unlock()

	if emptied && h.onEmpty != nil {
		h.onEmpty(sessionID)
	}
	log.Printf("[hub] observer disconnected session=%s", sessionID)
}

// ObserverCount reports the size of a session's observer set.
func (h *Hub) ObserverCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers[sessionID])
}

// Broadcast serializes the message once and sends it to every observer
// of the session. Observers whose send fails are removed; delivery to
// the others continues.
func (h *Hub) Broadcast(sessionID string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] failed to marshal %s message session=%s: %v", msg.Type, sessionID, err)
		return
	}

	h.mu.Lock()
	targets := append([]Observer(nil), h.observers[sessionID]...)
	h.mu.Unlock()

	var failed []Observer
	for _, o := range targets {
		if err := o.Send(payload); err != nil {
			log.Printf("[hub] dropping observer session=%s: %v", sessionID, err)
			failed = append(failed, o)
		}
	}

	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	emptied := false
	for _, o := range failed {
		if h.removeLocked(sessionID, o) {
			emptied = true
		}
	}
	h.mu.Unlock()

	if emptied && h.onEmpty != nil {
		h.onEmpty(sessionID)
	}
}

// removeLocked drops one observer and reports whether the session's
// set became empty. Caller holds the lock.
func (h *Hub) removeLocked(sessionID string, o Observer) bool {
	set, ok := h.observers[sessionID]
	if !ok {
		return false
	}

	for i, candidate := range set {
		if candidate == o {
			h.observers[sessionID] = append(set[:i], set[i+1:]...)
			break
		}
	}

	if len(h.observers[sessionID]) == 0 {
		delete(h.observers, sessionID)
		return ok
	}
	return false
}
