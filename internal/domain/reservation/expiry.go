package reservation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpiryWorker periodically expires lapsed PENDING holds.
type ExpiryWorker struct {
	service  *Service
	interval time.Duration
	stopCh   chan struct{}
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(service *Service, interval time.Duration) *ExpiryWorker {
	if interval == 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background worker
func (w *ExpiryWorker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting reservation expiry worker...")
	go w.loop()
}

// Stop gracefully stops the background worker
func (w *ExpiryWorker) Stop() {
	log.Info().Msg("Stopping reservation expiry worker...")
	close(w.stopCh)
}

func (w *ExpiryWorker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.sweep()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stopCh:
			return
		}
	}
}

func (w *ExpiryWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := w.service.ExpireDue(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to expire pending reservations")
	}
}
