package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/doculens/doculens/internal/api/handlers"
	"github.com/doculens/doculens/internal/api/middleware"
	"github.com/doculens/doculens/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", h.SubmitAnalysis)
			r.Get("/", h.ListAnalyses)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetAnalysis)
				r.Get("/events", h.StreamEvents)
				r.Get("/ws", h.StreamEventsWS)
				r.Get("/context", h.GetAnalysisContext)
			})
		})

		r.Get("/agents", h.ListAgents)
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "doculens",
		})
	}
}
