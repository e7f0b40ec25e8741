package calendar

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler runs RunAll on a fixed interval until its context ends.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	timeout    time.Duration
}

// NewScheduler creates a scheduler. A pass is cut off after timeout.
func NewScheduler(reconciler *Reconciler, interval, timeout time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Scheduler{reconciler: reconciler, interval: interval, timeout: timeout}
}

// Run blocks until ctx is done. The first pass starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Starting calendar sync scheduler...")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ticker.C:
			s.pass(ctx)
		case <-ctx.Done():
			log.Info().Msg("Calendar sync scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.reconciler.RunAll(ctx); err != nil {
		log.Error().Err(err).Msg("Calendar sync pass failed")
	}
}
