package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/metrics"
	"scheduling-sync-service/internal/sync"
)

type Handler struct {
	cfg        *config.Config
	manager    *sync.Manager
	calculator *metrics.Calculator
}

func NewHandler(cfg *config.Config, manager *sync.Manager, calculator *metrics.Calculator) *Handler {
	return &Handler{
		cfg:        cfg,
		manager:    manager,
		calculator: calculator,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware(h.cfg.Server.CorsOrigins))

	r.Get("/health", h.HealthCheck)

	// The provider pushes here; deliveries authenticate by signature,
	// not bearer token.
	r.Post("/webhooks/scheduling", h.ReceiveWebhook)

	// Browser redirect target; the user arrives without our token.
	r.Get("/oauth/callback", h.OAuthCallback)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.Server.AuthToken))

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/sync", h.TriggerSync)

			r.Get("/mappings", h.ListMappings)
			r.Post("/mappings", h.ActivateMapping)
			r.Delete("/mappings/{eventTypeID}", h.DeactivateMapping)

			r.Get("/metrics", h.ProjectMetrics)
			r.Get("/event-types", h.ListEventTypes)

			r.Get("/connect", h.Connect)
			r.Get("/connection", h.GetConnection)
			r.Post("/disconnect", h.Disconnect)
			r.Post("/webhooks/cleanup", h.CleanupWebhooks)
		})
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
