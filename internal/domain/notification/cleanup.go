package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultRetentionDays = 90

// CleanupJob prunes old notifications. Read ones go after the retention period,
// unread ones after twice that.
type CleanupJob struct {
	repo         Repository
	readMaxAge   time.Duration
	unreadMaxAge time.Duration
}

// NewCleanupJob creates a cleanup job. retentionDays <= 0 selects the default.
func NewCleanupJob(repo Repository, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour
	return &CleanupJob{
		repo:         repo,
		readMaxAge:   retention,
		unreadMaxAge: 2 * retention,
	}
}

// Start prunes immediately and then every interval until ctx is done.
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if deleted, err := j.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to prune notifications")
		} else if deleted > 0 {
			log.Info().
				Int64("deleted", deleted).
				Dur("read_max_age", j.readMaxAge).
				Msg("Pruned old notifications")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Notification cleanup job stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one pruning pass.
func (j *CleanupJob) RunOnce(ctx context.Context) (int64, error) {
	return j.repo.DeleteOlderThan(ctx, j.readMaxAge, j.unreadMaxAge)
}
