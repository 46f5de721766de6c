package session

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSSEObserverWritesFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	observer := &sseObserver{w: rec, flusher: rec}

	if err := observer.Send([]byte(`{"type":"transcript"}`)); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("malformed sse frame: %q", body)
	}
}

func TestSSEObserverRejectsWritesAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	observer := &sseObserver{w: rec, flusher: rec}
	observer.close()

	if err := observer.Send([]byte(`{"type":"transcript"}`)); err == nil {
		t.Fatal("expected an error after close")
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("closed observer must not write, got %q", rec.Body.String())
	}
}
