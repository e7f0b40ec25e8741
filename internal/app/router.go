package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/calendar"
	"github.com/studiobook/studiobook-api/internal/domain/notification"
	"github.com/studiobook/studiobook-api/internal/domain/reservation"
	"github.com/studiobook/studiobook-api/internal/middleware"
	pkgresponse "github.com/studiobook/studiobook-api/internal/pkg/response"
)

const requestTimeout = 30 * time.Second

// Router builds the HTTP surface.
func (a *App) Router() http.Handler {
	cfg := a.Config
	authMiddleware := middleware.Auth(a.JWT)

	availabilityHandler := availability.NewHandler(a.Coordinator)
	reservationHandler := reservation.NewHandler(a.Reservations)
	notificationHandler := notification.NewHandler(a.Notifications, a.Hub, a.JWT, cfg.AllowedOrigins)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint (outside the timeout and compression groups)
	r.Get("/ws", notificationHandler.WebSocket)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]any{
			"status":         "ok",
			"store":          cfg.StoreDriver,
			"outbox_pending": a.Outbox.Pending(),
			"connections":    a.Hub.ConnectionCount(),
		})
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Limit)
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(chimw.Compress(5))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/resources", availabilityHandler.Routes(authMiddleware))
		r.Mount("/reservations", reservationHandler.Routes(authMiddleware))
		r.Mount("/notifications", notificationHandler.Routes(authMiddleware))
		if a.CalendarService != nil {
			r.Mount("/calendar", calendar.NewHandler(a.CalendarService).Routes(authMiddleware))
		}
	})

	return r
}
