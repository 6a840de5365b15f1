// Package api exposes the engine's trigger surface: authenticated job
// endpoints invoked by an external cron scheduler, plus health.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router. Job routes require the shared
// scheduler secret; health does not.
func SetupRoutes(h *Handlers, cronSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Cron-Secret", "X-Service-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/jobs", func(r chi.Router) {
		r.Use(RequireCronSecret(cronSecret))
		// Cron providers differ on which verb they emit, so both are
		// accepted.
		r.Get("/process-campaigns", h.ProcessCampaigns)
		r.Post("/process-campaigns", h.ProcessCampaigns)
		r.Get("/process-emails", h.ProcessEmails)
		r.Post("/process-emails", h.ProcessEmails)
	})

	return r
}
