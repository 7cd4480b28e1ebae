package api

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(h *Handler, authEnabled bool, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Retrieval.
	r.Get("/search", h.Search)
	r.Post("/ask", h.Ask)

	// Index maintenance.
	r.Post("/reindex", h.Reindex)

	// Link graph.
	r.Get("/backlinks", h.Backlinks)

	return r
}
