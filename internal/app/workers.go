package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/calendar"
	"github.com/studiobook/studiobook-api/internal/domain/notification"
	"github.com/studiobook/studiobook-api/internal/domain/reservation"
)

const cleanupInterval = 6 * time.Hour

// StartBackground launches the hub, the availability dispatcher and the periodic jobs.
// They stop when ctx is cancelled; the returned func blocks until they have.
func (a *App) StartBackground(ctx context.Context) (wait func()) {
	cfg := a.Config
	var wg sync.WaitGroup
	spawn := func(name string, fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Debug().Str("worker", name).Msg("Background worker exited")
		}()
	}

	go a.Hub.Run()

	spawn("dispatcher", availability.NewDispatcher(a.Outbox, a.Hub).Run)
	spawn("repair", func(ctx context.Context) {
		a.RepairWorker.Start(ctx, cfg.RepairInterval)
	})
	spawn("notification-cleanup", func(ctx context.Context) {
		notification.NewCleanupJob(a.Stores.Notifications, cfg.NotificationRetentionDays).Start(ctx, cleanupInterval)
	})

	expiry := reservation.NewExpiryWorker(a.Reservations, cfg.ExpirySweepInterval)
	expiry.Start()

	if a.Reconciler != nil {
		spawn("calendar-sync", calendar.NewScheduler(a.Reconciler, cfg.CalendarSyncInterval, 0).Run)
	}

	return func() {
		expiry.Stop()
		wg.Wait()
		a.Hub.Shutdown()
	}
}
