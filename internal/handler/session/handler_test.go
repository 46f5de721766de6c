package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tonari-ai/mna-hearing/internal/config"
	"github.com/tonari-ai/mna-hearing/internal/hub"
	"github.com/tonari-ai/mna-hearing/internal/model/project"
	"github.com/tonari-ai/mna-hearing/internal/service/extraction"
	"github.com/tonari-ai/mna-hearing/internal/service/pipeline"
	"github.com/tonari-ai/mna-hearing/internal/service/registry"
	"github.com/tonari-ai/mna-hearing/internal/service/suggestion"
)

func setupRouter() (*chi.Mux, project.Store) {
	r, projects, _ := setupHandler(config.PipelineConfig{
		MinUtterances:  3,
		RecentWindow:   10,
		MissingFieldsN: 10,
	})
	return r, projects
}

func setupHandler(cfg config.PipelineConfig) (*chi.Mux, project.Store, *Handler) {
	reg := registry.NewService()
	extractor := extraction.NewService(nil)
	suggester := suggestion.NewService(nil)
	broadcastHub := hub.New()
	pipe := pipeline.NewService(reg, extractor, suggester, broadcastHub, cfg)
	projects := project.NewMemoryStore(nil)
	handler := New(reg, extractor, pipe, broadcastHub, projects, cfg)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, projects, handler
}

func createSession(t *testing.T, r *chi.Mux, projectID string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"project_id": projectID})
	req := httptest.NewRequest(http.MethodPost, "/mna/sessions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	if body["session_id"] == "" {
		t.Fatal("expected non-empty session_id")
	}
	return body["session_id"]
}

func TestCreateSessionValidProject(t *testing.T) {
	r, projects := setupRouter()
	p := projects.Create("案件A", "テスト株式会社")

	createSession(t, r, p.ID)
}

func TestCreateSessionUnknownProject(t *testing.T) {
	r, _ := setupRouter()
	payload, _ := json.Marshal(map[string]string{"project_id": "non-existent"})

	req := httptest.NewRequest(http.MethodPost, "/mna/sessions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestCreateSessionMissingProjectID(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/mna/sessions", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/mna/sessions/missing", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	r, projects := setupRouter()
	p := projects.Create("案件A", "テスト株式会社")
	sessionID := createSession(t, r, p.ID)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/mna/sessions/"+sessionID+"/end", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Fatalf("end attempt %d: expected 200, got %d", i+1, resp.Code)
		}
	}
}

func TestGetExtractionsIncludesProgress(t *testing.T) {
	r, projects := setupRouter()
	p := projects.Create("案件A", "テスト株式会社")
	sessionID := createSession(t, r, p.ID)

	req := httptest.NewRequest(http.MethodGet, "/mna/sessions/"+sessionID+"/extractions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Progress struct {
			Total  int `json:"total"`
			Filled int `json:"filled"`
		} `json:"progress"`
		MissingFields []json.RawMessage `json:"missing_fields"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Progress.Total == 0 {
		t.Fatal("expected non-zero total item count")
	}
	if body.Progress.Filled != 0 {
		t.Fatalf("expected 0 filled items on a fresh session, got %d", body.Progress.Filled)
	}
	if len(body.MissingFields) == 0 {
		t.Fatal("expected missing field recommendations on a fresh session")
	}
	if len(body.MissingFields) > 10 {
		t.Fatalf("expected at most 10 missing fields, got %d", len(body.MissingFields))
	}
}

func TestGetExtractionsHonorsMissingFieldsLimit(t *testing.T) {
	r, projects, _ := setupHandler(config.PipelineConfig{
		MinUtterances:  3,
		RecentWindow:   10,
		MissingFieldsN: 3,
	})
	p := projects.Create("案件A", "テスト株式会社")
	sessionID := createSession(t, r, p.ID)

	req := httptest.NewRequest(http.MethodGet, "/mna/sessions/"+sessionID+"/extractions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		MissingFields []json.RawMessage `json:"missing_fields"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.MissingFields) != 3 {
		t.Fatalf("expected 3 missing fields, got %d", len(body.MissingFields))
	}
}

func TestUpdateExtractionManual(t *testing.T) {
	r, projects := setupRouter()
	p := projects.Create("案件A", "テスト株式会社")
	sessionID := createSession(t, r, p.ID)

	payload, _ := json.Marshal(map[string]string{"value": "株式会社サンプル"})
	req := httptest.NewRequest(http.MethodPut, "/mna/sessions/"+sessionID+"/extractions/basic_info.company_name", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var field struct {
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
		Manual     bool    `json:"manual"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &field); err != nil {
		t.Fatalf("failed to decode field: %v", err)
	}
	if field.Value != "株式会社サンプル" {
		t.Fatalf("unexpected value %q", field.Value)
	}
	if field.Confidence != 1.0 {
		t.Fatalf("manual update should carry confidence 1.0, got %v", field.Confidence)
	}
	if !field.Manual {
		t.Fatal("manual update should be flagged manual")
	}
}

func TestUpdateExtractionInvalidKey(t *testing.T) {
	r, projects := setupRouter()
	p := projects.Create("案件A", "テスト株式会社")
	sessionID := createSession(t, r, p.ID)

	payload, _ := json.Marshal(map[string]string{"value": "x"})
	req := httptest.NewRequest(http.MethodPut, "/mna/sessions/"+sessionID+"/extractions/not-a-key", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestUpdateExtractionUnknownSession(t *testing.T) {
	r, _ := setupRouter()

	payload, _ := json.Marshal(map[string]string{"value": "x"})
	req := httptest.NewRequest(http.MethodPut, "/mna/sessions/missing/extractions/basic_info.company_name", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestInboundAddHypothesis(t *testing.T) {
	r, projects, h := setupHandler(config.PipelineConfig{
		MinUtterances:  3,
		RecentWindow:   10,
		MissingFieldsN: 10,
	})
	p := projects.Create("案件A", "テスト株式会社")
	sessionID := createSession(t, r, p.ID)

	h.handleInbound(context.Background(), sessionID, &inboundMessage{
		Type:       "add_hypothesis",
		Content:    "後継者不在が譲渡理由ではないか",
		Confidence: 0.7,
	})
	h.handleInbound(context.Background(), sessionID, &inboundMessage{Type: "add_hypothesis"})

	got, err := h.registry.Hypotheses(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Hypotheses err: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 hypothesis, got %d", len(got))
	}
	if got[0].Content != "後継者不在が譲渡理由ではないか" {
		t.Fatalf("unexpected content: %s", got[0].Content)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatal("hypothesis should get an id and timestamp")
	}
}

func TestEventsStreamUnknownSession(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/mna/sessions/missing/events", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
