package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tonari-ai/mna-hearing/internal/config"
	projectHandler "github.com/tonari-ai/mna-hearing/internal/handler/project"
	sessionHandler "github.com/tonari-ai/mna-hearing/internal/handler/session"
	"github.com/tonari-ai/mna-hearing/internal/hub"
	middlewarePkg "github.com/tonari-ai/mna-hearing/internal/middleware"
	projectModel "github.com/tonari-ai/mna-hearing/internal/model/project"
	"github.com/tonari-ai/mna-hearing/internal/service/extraction"
	"github.com/tonari-ai/mna-hearing/internal/service/pipeline"
	"github.com/tonari-ai/mna-hearing/internal/service/registry"
	"github.com/tonari-ai/mna-hearing/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(projects projectModel.Store, reg *registry.Service, extractor *extraction.Service, pipe *pipeline.Service, h *hub.Hub, pipelineCfg config.PipelineConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		projectHandler.New(projects).RegisterRoutes(api)
		sessionHandler.New(reg, extractor, pipe, h, projects, pipelineCfg).RegisterRoutes(api)
	})

	return r
}
