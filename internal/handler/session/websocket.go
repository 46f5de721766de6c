package session

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tonari-ai/mna-hearing/internal/hub"
	"github.com/tonari-ai/mna-hearing/internal/model/catalog"
	model "github.com/tonari-ai/mna-hearing/internal/model/session"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second

	// closeSessionNotFound mirrors the 4xxx application close range.
	closeSessionNotFound = 4004
)

type wsUpgrader = websocket.Upgrader

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// inboundMessage is the envelope observers send. Unknown types are
// ignored silently so old clients stay compatible.
type inboundMessage struct {
	Type         string  `json:"type"`
	Text         string  `json:"text"`
	Speaker      string  `json:"speaker"`
	IsFinal      bool    `json:"is_final"`
	UtteranceID  string  `json:"utterance_id"`
	Note         string  `json:"note"`
	FieldKey     string  `json:"field_key"`
	Value        string  `json:"value"`
	Layer        string  `json:"layer"`
	SuggestionID string  `json:"suggestion_id"`
	Content      string  `json:"content"`
	Confidence   float64 `json:"confidence"`
}

// wsObserver adapts a websocket connection to the hub's Observer
// interface. The mutex guards against concurrent writes from the hub
// and the ping loop.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsObserver) Send(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return o.conn.WriteMessage(websocket.TextMessage, payload)
}

func (o *wsObserver) ping() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return o.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Reject unknown sessions with a distinct close reason so clients
	// can tell it apart from a transport drop.
	if _, err := h.registry.GetSession(r.Context(), sessionID); err != nil {
		deadline := time.Now().Add(writeTimeout)
		msg := websocket.FormatCloseMessage(closeSessionNotFound, "session not found")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		return
	}

	observer := &wsObserver{conn: conn}
	h.hub.Connect(sessionID, observer)
	defer h.hub.Disconnect(sessionID, observer)

	log.Printf("[websocket] new connection session=%s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, observer)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error session=%s: %v", sessionID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleInbound(ctx, sessionID, &msg)
	}
}

func (h *Handler) pingLoop(ctx context.Context, observer *wsObserver) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := observer.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleInbound(ctx context.Context, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "transcript":
		speaker := model.ParseSpeaker(msg.Speaker)
		if err := h.pipeline.ProcessIncoming(ctx, sessionID, msg.Text, speaker, msg.IsFinal); err != nil {
			log.Printf("[websocket] transcript rejected session=%s: %v", sessionID, err)
		}

	case "pin_utterance":
		if err := h.registry.PinUtterance(ctx, sessionID, msg.UtteranceID, msg.Note); err != nil {
			log.Printf("[websocket] pin rejected session=%s: %v", sessionID, err)
		}

	case "update_extraction":
		if msg.FieldKey == "" {
			return
		}
		field, err := h.registry.UpdateField(ctx, sessionID, msg.FieldKey, msg.Value)
		if err != nil {
			log.Printf("[websocket] manual update rejected session=%s: %v", sessionID, err)
			return
		}
		h.hub.Broadcast(sessionID, hub.NewMessage(hub.KindExtractionUpdate, map[string]any{
			"field_key": field.Key(),
			"field":     field,
		}))

	case "set_layer":
		layer, ok := catalog.ParseLayer(msg.Layer)
		if !ok {
			return
		}
		if err := h.registry.SetCurrentLayer(ctx, sessionID, layer); err != nil {
			log.Printf("[websocket] set_layer rejected session=%s: %v", sessionID, err)
		}

	case "add_hypothesis":
		if msg.Content == "" {
			return
		}
		hypothesis := model.Hypothesis{Content: msg.Content, Confidence: msg.Confidence}
		if err := h.registry.AddHypothesis(ctx, sessionID, hypothesis); err != nil {
			log.Printf("[websocket] hypothesis rejected session=%s: %v", sessionID, err)
		}

	case "dismiss_suggestion":
		if err := h.registry.MarkSuggestionDismissed(ctx, sessionID, msg.SuggestionID); err != nil {
			log.Printf("[websocket] dismiss rejected session=%s: %v", sessionID, err)
		}

	case "use_suggestion":
		if err := h.registry.MarkSuggestionUsed(ctx, sessionID, msg.SuggestionID); err != nil {
			log.Printf("[websocket] use rejected session=%s: %v", sessionID, err)
		}

	default:
		// Unknown kinds are ignored by contract.
	}
}
