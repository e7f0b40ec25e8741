package availability

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studiobook/studiobook-api/internal/middleware"
)

// Routes returns availability router, mounted under /resources
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/{id}/availability", h.GetAvailability)
	r.Post("/{id}/availability/check", h.Check)

	// Vendor routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RequireVendor())
		r.Post("/{id}/blocks", h.Block)
		r.Delete("/{id}/blocks", h.Unblock)
	})

	return r
}
