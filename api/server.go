/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for admin tooling

ROUTE GROUPS:
  /webhook/*   Write path, called by the chat platform
  /api/*       Read-only admin endpoints
  /healthz     Liveness

SECURITY NOTE:
  The webhook authenticates payloads via the verification token and
  optional encryption inside the decoder. Admin endpoints carry no
  authentication; deploy them behind the network boundary.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/bot/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/webhook", func(r chi.Router) {
		r.Post("/event", h.HandleEvent)
		r.Post("/card", h.HandleCardAction)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}/layers", h.GetLayers)
		r.Get("/summary", h.GetSummary)
		r.Get("/transactions", h.ListTransactions)
	})

	r.Get("/healthz", h.Health)

	return r
}
