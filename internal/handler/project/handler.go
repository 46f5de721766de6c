package project

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tonari-ai/mna-hearing/internal/model/project"
	"github.com/tonari-ai/mna-hearing/pkg/utils"
)

// Handler serves project CRUD over HTTP.
type Handler struct {
	projects project.Store
}

// New creates a project handler.
func New(projects project.Store) *Handler {
	return &Handler{projects: projects}
}

// RegisterRoutes registers project routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/mna/projects", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{projectID}", h.handleGet)
	})
}

type createRequest struct {
	Name        string `json:"name"`
	CompanyName string `json:"company_name"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	p := h.projects.Create(req.Name, req.CompanyName)
	utils.RespondJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.projects.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	p, ok := h.projects.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "project not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}
