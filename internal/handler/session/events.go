package session

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/tonari-ai/mna-hearing/pkg/utils"
)

// sseObserver adapts an SSE response writer to the hub's Observer
// interface. Writes happen from hub goroutines, so the flusher is
// guarded by a mutex. The closed flag stops a broadcast that captured
// this observer before disconnect from writing after the handler
// returned.
type sseObserver struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func (o *sseObserver) Send(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errors.New("sse stream closed")
	}
	if _, err := o.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := o.w.Write(payload); err != nil {
		return err
	}
	if _, err := o.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	o.flusher.Flush()
	return nil
}

func (o *sseObserver) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

// handleEvents attaches a read-only SSE observer to the session's
// broadcast stream, for dashboards that only want to watch.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.registry.GetSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, map[string]any{
		"type":    "status",
		"message": "stream established",
	})

	observer := &sseObserver{w: w, flusher: flusher}
	h.hub.Connect(sessionID, observer)
	defer h.hub.Disconnect(sessionID, observer)
	defer observer.close()

	log.Printf("[sse] observer attached session=%s", sessionID)
	<-r.Context().Done()
	log.Printf("[sse] observer detached session=%s", sessionID)
}
