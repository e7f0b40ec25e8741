package reservation

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studiobook/studiobook-api/internal/middleware"
)

// Routes returns reservation router, mounted under /reservations
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	// Customer and vendor routes
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/reschedule", h.Reschedule)
	r.Get("/{id}/reschedule-options", h.RescheduleOptions)
	r.Post("/{id}/extend", h.Extend)
	r.Post("/{id}/shrink", h.Shrink)

	// Vendor routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireVendor())
		r.Post("/confirm-batch", h.ConfirmBatch)
		r.Post("/{id}/confirm", h.Confirm)
		r.Post("/{id}/reject", h.Reject)
	})

	return r
}
