// Package app assembles the booking engine from configuration. The API server and the
// ops CLI share it so both run against identically wired services.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/config"
	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/calendar"
	"github.com/studiobook/studiobook-api/internal/domain/notification"
	"github.com/studiobook/studiobook-api/internal/domain/report"
	"github.com/studiobook/studiobook-api/internal/domain/reservation"
	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
	"github.com/studiobook/studiobook-api/internal/pkg/database"
	"github.com/studiobook/studiobook-api/internal/pkg/jwt"
	"github.com/studiobook/studiobook-api/internal/pkg/payment"
	"github.com/studiobook/studiobook-api/internal/pkg/secretbox"
	"github.com/studiobook/studiobook-api/internal/pkg/storage"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config
	Stores *Stores
	Redis  *redis.Client
	JWT    *jwt.Service

	Outbox       *availability.Outbox
	Repairs      availability.RepairQueue
	Coordinator  *availability.Coordinator
	RepairWorker *availability.RepairWorker

	Reports       *report.Service
	Payments      payment.Gateway
	Hub           *notification.Hub
	Notifications *notification.Service
	Reservations  *reservation.Service

	// Calendar components are nil when external calendar sync is disabled.
	CalendarService *calendar.Service
	Reconciler      *calendar.Reconciler
}

// New connects the configured stores and wires the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		stores.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &App{
		Config: cfg,
		Stores: stores,
		Redis:  rdb,
		JWT:    jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config

	store, err := storage.New(storage.Config{
		Driver:      cfg.StorageDriver,
		LocalPath:   cfg.StorageLocalPath,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		return fmt.Errorf("incident storage: %w", err)
	}
	a.Reports = report.NewService(store)

	a.Payments, err = paymentGateway(cfg)
	if err != nil {
		return err
	}

	if a.Redis != nil {
		a.Repairs = availability.NewRedisRepairQueue(a.Redis)
	} else {
		a.Repairs = availability.NewMemoryRepairQueue()
	}
	a.Outbox = availability.NewOutbox(cfg.OutboxBuffer)
	a.Coordinator = availability.NewCoordinator(a.Stores.Resources, availability.CoordinatorConfig{
		Outbox:         a.Outbox,
		Repairs:        a.Repairs,
		SiblingTimeout: cfg.SiblingTimeout,
	})
	// Tracked external blocks outlive a disabled sync, so releases always consult them.
	a.Coordinator.SetBlockVerifier(a.Stores.Calendar)
	a.RepairWorker = availability.NewRepairWorker(a.Coordinator, a.Repairs, a.Reports, cfg.RepairMaxAttempts)

	a.Hub = notification.NewHub(a.Redis)
	a.Notifications = notification.NewService(a.Stores.Notifications, a.Hub)

	deps := reservation.Deps{
		Repo:        a.Stores.Reservations,
		Resources:   a.Stores.Resources,
		Coordinator: a.Coordinator,
		Payments:    a.Payments,
		Notifier:    a.Notifications,
		Reporter:    a.Reports,
		HoldTTL:     cfg.HoldTTL,
	}

	if cfg.CalendarSyncEnabled {
		publisher, err := a.wireCalendar()
		if err != nil {
			return err
		}
		deps.Calendar = publisher
	}

	a.Reservations = reservation.NewService(deps)
	return nil
}

func (a *App) wireCalendar() (*calendar.Publisher, error) {
	cfg := a.Config

	key, err := cfg.SecretKeyBytes()
	if err != nil {
		return nil, err
	}
	box, err := secretbox.New(key)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.CalendarLocation()
	if err != nil {
		return nil, err
	}

	client := calendarapi.NewClient(calendarapi.Config{
		BaseURL:        cfg.CalendarBaseURL,
		TokenURL:       cfg.CalendarTokenURL,
		ClientID:       cfg.CalendarClientID,
		ClientSecret:   cfg.CalendarClientSecret,
		Timeout:        time.Duration(cfg.CalendarTimeoutSeconds) * time.Second,
		RequestsPerSec: cfg.CalendarRatePerSecond,
	})
	creds := calendar.NewCredentialSource(a.Stores.Calendar, box, client)

	a.Reconciler = calendar.NewReconciler(calendar.ReconcilerConfig{
		Repo:        a.Stores.Calendar,
		API:         client,
		Credentials: creds,
		Coordinator: a.Coordinator,
		Reporter:    a.Reports,
		Location:    loc,
		Concurrency: cfg.CalendarSyncConcurrency,
	})
	a.CalendarService = calendar.NewService(a.Stores.Calendar, a.Stores.Resources, creds, a.Reconciler)

	log.Info().
		Str("timezone", loc.String()).
		Dur("interval", cfg.CalendarSyncInterval).
		Msg("External calendar sync enabled")
	return calendar.NewPublisher(a.Stores.Calendar, client, creds, loc), nil
}

func paymentGateway(cfg *config.Config) (payment.Gateway, error) {
	registry := payment.NewRegistry()
	registry.Register(payment.NewDemoGateway())
	if cfg.PaymentBaseURL != "" {
		registry.Register(payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentSecretKey, 15*time.Second))
	}

	gw, err := registry.Get(cfg.PaymentProvider)
	if err != nil {
		return nil, fmt.Errorf("payments: %w (available: %v)", err, registry.List())
	}
	return gw, nil
}

// Migrate applies the schema of the active store driver.
func (a *App) Migrate(ctx context.Context) error {
	return a.Stores.Migrate(ctx)
}

// Close waits for in-flight notifications and releases connections.
func (a *App) Close() {
	if a.Notifications != nil {
		a.Notifications.Wait()
	}
	database.CloseRedis(a.Redis)
	a.Stores.close()
}
