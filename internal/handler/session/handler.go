// Package session exposes the hearing session API: REST lifecycle
// endpoints plus the per-session websocket and SSE event channels.
package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tonari-ai/mna-hearing/internal/config"
	"github.com/tonari-ai/mna-hearing/internal/hub"
	"github.com/tonari-ai/mna-hearing/internal/model/project"
	"github.com/tonari-ai/mna-hearing/internal/service/extraction"
	"github.com/tonari-ai/mna-hearing/internal/service/pipeline"
	"github.com/tonari-ai/mna-hearing/internal/service/registry"
	"github.com/tonari-ai/mna-hearing/pkg/utils"
)

// Handler serves the session API.
type Handler struct {
	registry       *registry.Service
	extractor      *extraction.Service
	pipeline       *pipeline.Service
	hub            *hub.Hub
	projects       project.Store
	upgrader       wsUpgrader
	missingFieldsN int
}

// New creates the session handler.
func New(reg *registry.Service, extractor *extraction.Service, pipe *pipeline.Service, h *hub.Hub, projects project.Store, cfg config.PipelineConfig) *Handler {
	missingFieldsN := cfg.MissingFieldsN
	if missingFieldsN < 1 {
		missingFieldsN = 10
	}
	return &Handler{
		registry:       reg,
		extractor:      extractor,
		pipeline:       pipe,
		hub:            h,
		projects:       projects,
		upgrader:       newUpgrader(),
		missingFieldsN: missingFieldsN,
	}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/mna/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{sessionID}", h.handleGet)
		r.Post("/{sessionID}/end", h.handleEnd)
		r.Get("/{sessionID}/extractions", h.handleGetExtractions)
		r.Put("/{sessionID}/extractions/{fieldKey}", h.handleUpdateExtraction)
		r.Get("/{sessionID}/ws", h.handleWebSocket)
		r.Get("/{sessionID}/events", h.handleEvents)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ProjectID == "" {
		utils.RespondError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if _, ok := h.projects.FindByID(payload.ProjectID); !ok {
		utils.RespondError(w, http.StatusNotFound, "project not found")
		return
	}

	created := h.registry.CreateSession(r.Context(), payload.ProjectID)

	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"session_id": created.ID,
		"project_id": created.ProjectID,
		"status":     string(created.Status),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.registry.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	summary, err := h.registry.EndSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	h.hub.Broadcast(sessionID, hub.NewMessage(hub.KindSessionStatus, map[string]string{
		"status": "completed",
	}))
	utils.RespondJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGetExtractions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	extractions, err := h.registry.Extractions(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	currentLayer, err := h.registry.CurrentLayer(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	missing := h.extractor.MissingFields(extractions, currentLayer)
	if len(missing) > h.missingFieldsN {
		missing = missing[:h.missingFieldsN]
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"extractions":    extractions,
		"progress":       h.extractor.Progress(extractions),
		"missing_fields": missing,
	})
}

func (h *Handler) handleUpdateExtraction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	fieldKey := chi.URLParam(r, "fieldKey")

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	field, err := h.registry.UpdateField(r.Context(), sessionID, fieldKey, payload.Value)
	switch {
	case errors.Is(err, registry.ErrInvalidFieldKey):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, registry.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	h.hub.Broadcast(sessionID, hub.NewMessage(hub.KindExtractionUpdate, map[string]any{
		"field_key": field.Key(),
		"field":     field,
	}))
	utils.RespondJSON(w, http.StatusOK, field)
}
