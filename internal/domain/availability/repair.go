package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/domain/report"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const (
	defaultRepairBatch       = 100
	defaultRepairMaxAttempts = 10
	repairQueueKey           = "studiobook:availability:repairs"

	// holdGrace covers the window between a reserve and the reservation row being written.
	holdGrace = 30 * time.Second
)

// RepairTask is a sibling write that failed and must be re-applied.
// A zero TargetID means the sibling list itself could not be loaded.
type RepairTask struct {
	Op            Op        `json:"op"`
	StudioID      uuid.UUID `json:"studio_id"`
	PrimaryID     uuid.UUID `json:"primary_id"`
	TargetID      uuid.UUID `json:"target_id,omitempty"`
	Date          string    `json:"date"`
	Slots         []string  `json:"slots"`
	ReservationID uuid.UUID `json:"reservation_id,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
}

// RepairQueue stores pending sibling repairs.
type RepairQueue interface {
	Push(ctx context.Context, task RepairTask) error
	Pop(ctx context.Context, max int) ([]RepairTask, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryRepairQueue is a process-local FIFO queue.
type MemoryRepairQueue struct {
	mu    sync.Mutex
	tasks []RepairTask
}

// NewMemoryRepairQueue creates an empty queue.
func NewMemoryRepairQueue() *MemoryRepairQueue {
	return &MemoryRepairQueue{}
}

func (q *MemoryRepairQueue) Push(_ context.Context, task RepairTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.Slots = append([]string(nil), task.Slots...)
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *MemoryRepairQueue) Pop(_ context.Context, max int) ([]RepairTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.tasks) {
		max = len(q.tasks)
	}
	out := append([]RepairTask(nil), q.tasks[:max]...)
	q.tasks = q.tasks[max:]
	return out, nil
}

func (q *MemoryRepairQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.tasks)), nil
}

// RedisRepairQueue keeps repairs in a Redis list so they survive restarts
// and are shared between API instances.
type RedisRepairQueue struct {
	client *redis.Client
	key    string
}

// NewRedisRepairQueue creates a queue on client.
func NewRedisRepairQueue(client *redis.Client) *RedisRepairQueue {
	return &RedisRepairQueue{client: client, key: repairQueueKey}
}

func (q *RedisRepairQueue) Push(ctx context.Context, task RepairTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal repair task: %w", err)
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

func (q *RedisRepairQueue) Pop(ctx context.Context, max int) ([]RepairTask, error) {
	if max <= 0 {
		max = defaultRepairBatch
	}
	raw, err := q.client.RPopCount(ctx, q.key, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tasks := make([]RepairTask, 0, len(raw))
	for _, item := range raw {
		var task RepairTask
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			log.Error().Err(err).Msg("Dropping malformed repair task")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (q *RedisRepairQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// HoldVerifier answers which slots live reservations still hold.
type HoldVerifier interface {
	// Holds reports whether the reservation is still active and holds slots on date.
	Holds(ctx context.Context, reservationID uuid.UUID, date string, slots []string) (bool, error)
	// HeldSlots returns every slot held on date by an active reservation on res,
	// or on any resource of its studio.
	HeldSlots(ctx context.Context, res *Resource, date string) ([]string, error)
}

// BlockVerifier answers which slots external calendar events still block.
type BlockVerifier interface {
	// BlockedSlots returns the union of slots blocked on date across resourceIDs.
	BlockedSlots(ctx context.Context, resourceIDs []uuid.UUID, date string) ([]string, error)
}

// Reporter records tasks that need operator follow-up.
type Reporter interface {
	Report(ctx context.Context, inc report.Incident) error
}

// RepairWorker re-applies failed sibling writes until the studio converges.
type RepairWorker struct {
	coord       *Coordinator
	queue       RepairQueue
	reporter    Reporter
	maxAttempts int
	batch       int
}

// NewRepairWorker creates a worker. reporter may be nil.
func NewRepairWorker(coord *Coordinator, queue RepairQueue, reporter Reporter, maxAttempts int) *RepairWorker {
	if maxAttempts <= 0 {
		maxAttempts = defaultRepairMaxAttempts
	}
	return &RepairWorker{
		coord:       coord,
		queue:       queue,
		reporter:    reporter,
		maxAttempts: maxAttempts,
		batch:       defaultRepairBatch,
	}
}

// Start runs the worker immediately and then every interval until ctx is done.
func (w *RepairWorker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Availability repair worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce processes one batch of queued repairs and returns how many converged.
func (w *RepairWorker) RunOnce(ctx context.Context) int {
	tasks, err := w.queue.Pop(ctx, w.batch)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read repair queue")
		return 0
	}

	repaired := 0
	for _, task := range tasks {
		if err := w.apply(ctx, task); err != nil {
			w.retry(ctx, task, err)
			continue
		}
		repaired++
	}

	if len(tasks) > 0 {
		log.Info().
			Int("tasks", len(tasks)).
			Int("repaired", repaired).
			Msg("Availability repair pass finished")
	}
	return repaired
}

var errHoldPending = errors.New("reservation not visible yet")

func (w *RepairWorker) apply(ctx context.Context, task RepairTask) error {
	var studio *Studio
	if task.StudioID != uuid.Nil {
		s, err := w.coord.repo.GetStudio(ctx, task.StudioID)
		if err != nil {
			return err
		}
		studio = s
	}

	holds := w.coord.holdVerifier()
	slots := task.Slots
	switch task.Op {
	case OpBlock:
		if task.ReservationID != uuid.Nil && holds != nil {
			held, err := holds.Holds(ctx, task.ReservationID, task.Date, task.Slots)
			if err != nil {
				return err
			}
			if !held && time.Since(task.CreatedAt) < holdGrace {
				return errHoldPending
			}
			if !held {
				log.Debug().
					Str("reservation_id", task.ReservationID.String()).
					Msg("Reservation no longer holds slots, repair skipped")
				return nil
			}
		}
	case OpRelease:
		primary, err := w.coord.repo.GetResource(ctx, task.PrimaryID)
		if err != nil {
			return err
		}
		if holds != nil {
			held, err := holds.HeldSlots(ctx, primary, task.Date)
			if err != nil {
				return err
			}
			slots = timeslot.Subtract(slots, held)
		}
		blocked, err := w.coord.externallyBlocked(ctx, primary, studio, task.Date)
		if err != nil {
			return err
		}
		slots = timeslot.Subtract(slots, blocked)
		if len(slots) == 0 {
			return nil
		}
	default:
		return fmt.Errorf("unknown repair op %q", task.Op)
	}

	targets, err := w.targets(ctx, task)
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range targets {
		if err := w.coord.applyToSibling(ctx, task.Op, target, studio, task.Date, slots, callOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", target.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (w *RepairWorker) targets(ctx context.Context, task RepairTask) ([]*Resource, error) {
	if task.TargetID != uuid.Nil {
		res, err := w.coord.repo.GetResource(ctx, task.TargetID)
		if err != nil {
			return nil, err
		}
		return []*Resource{res}, nil
	}
	if task.StudioID == uuid.Nil {
		return nil, nil
	}
	return w.coord.repo.ListResourcesByStudio(ctx, task.StudioID, task.PrimaryID)
}

func (w *RepairWorker) retry(ctx context.Context, task RepairTask, cause error) {
	task.Attempts++
	if task.Attempts < w.maxAttempts {
		log.Warn().Err(cause).
			Str("studio_id", task.StudioID.String()).
			Str("date", task.Date).
			Int("attempts", task.Attempts).
			Msg("Sibling repair failed, requeued")
		if err := w.queue.Push(ctx, task); err != nil {
			log.Error().Err(err).Msg("Failed to requeue sibling repair")
		}
		return
	}

	log.Error().Err(cause).
		Str("studio_id", task.StudioID.String()).
		Str("date", task.Date).
		Msg("Sibling repair exhausted")
	if w.reporter == nil {
		return
	}
	inc := report.Incident{
		Kind:    report.KindSiblingRepairExhausted,
		Subject: task.StudioID.String(),
		Message: cause.Error(),
		Details: map[string]string{
			"op":         string(task.Op),
			"primary_id": task.PrimaryID.String(),
			"target_id":  task.TargetID.String(),
			"date":       task.Date,
			"attempts":   strconv.Itoa(task.Attempts),
		},
	}
	if err := w.reporter.Report(ctx, inc); err != nil {
		log.Error().Err(err).Msg("Failed to report exhausted repair")
	}
}
