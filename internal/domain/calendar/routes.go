package calendar

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studiobook/studiobook-api/internal/middleware"
)

// Routes returns calendar router, mounted under /calendar
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireVendor())

	r.Post("/accounts", h.Connect)
	r.Get("/accounts", h.List)
	r.Post("/accounts/{id}/sync", h.Sync)
	r.Delete("/accounts/{id}", h.Disconnect)

	return r
}
