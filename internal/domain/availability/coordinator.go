package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const defaultSiblingTimeout = 10 * time.Second

// Op names a slot operation applied to resources.
type Op string

const (
	OpBlock   Op = "block"
	OpRelease Op = "release"
)

// Option tunes a single coordinator call.
type Option func(*callOptions)

type callOptions struct {
	skipEmit      bool
	force         bool
	reservationID uuid.UUID
	touched       func(resourceID uuid.UUID)
}

// SkipEmit suppresses per-call change events. The caller emits an aggregate instead.
func SkipEmit() Option {
	return func(o *callOptions) { o.skipEmit = true }
}

// Force skips the admission check on reserve and removes whatever requested slots are still free.
func Force() Option {
	return func(o *callOptions) { o.force = true }
}

// ForReservation tags the call so deferred sibling repairs can be checked against the reservation.
func ForReservation(id uuid.UUID) Option {
	return func(o *callOptions) { o.reservationID = id }
}

func buildOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Coordinator reserves and releases slots on a primary resource and mirrors
// the result onto every sibling in the same studio.
type Coordinator struct {
	repo           Repository
	store          *Store
	outbox         *Outbox
	repairs        RepairQueue
	siblingTimeout time.Duration

	mu     sync.RWMutex
	holds  HoldVerifier
	blocks BlockVerifier
}

// CoordinatorConfig holds optional collaborators.
type CoordinatorConfig struct {
	Outbox         *Outbox
	Repairs        RepairQueue
	SiblingTimeout time.Duration
}

// NewCoordinator creates a coordinator.
func NewCoordinator(repo Repository, cfg CoordinatorConfig) *Coordinator {
	if cfg.SiblingTimeout <= 0 {
		cfg.SiblingTimeout = defaultSiblingTimeout
	}
	return &Coordinator{
		repo:           repo,
		store:          NewStore(repo),
		outbox:         cfg.Outbox,
		repairs:        cfg.Repairs,
		siblingTimeout: cfg.SiblingTimeout,
	}
}

// SetHoldVerifier wires the reservation side in after construction.
func (c *Coordinator) SetHoldVerifier(v HoldVerifier) {
	c.mu.Lock()
	c.holds = v
	c.mu.Unlock()
}

func (c *Coordinator) holdVerifier() HoldVerifier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.holds
}

// SetBlockVerifier wires the external calendar side in after construction.
func (c *Coordinator) SetBlockVerifier(v BlockVerifier) {
	c.mu.Lock()
	c.blocks = v
	c.mu.Unlock()
}

func (c *Coordinator) blockVerifier() BlockVerifier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks
}

// externallyBlocked returns the slots on date that external calendar blocks hold on
// res or any resource of its studio. Those slots must never be released locally.
func (c *Coordinator) externallyBlocked(ctx context.Context, res *Resource, studio *Studio, date string) ([]string, error) {
	blocks := c.blockVerifier()
	if blocks == nil {
		return nil, nil
	}
	ids := []uuid.UUID{res.ID}
	if studio != nil {
		siblings, err := c.repo.ListResourcesByStudio(ctx, studio.ID, res.ID)
		if err != nil {
			return nil, err
		}
		for _, sib := range siblings {
			ids = append(ids, sib.ID)
		}
	}
	return blocks.BlockedSlots(ctx, ids, date)
}

// Resource loads a resource.
func (c *Coordinator) Resource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	return c.repo.GetResource(ctx, id)
}

// Reserve atomically checks that slots are free on the primary resource and removes them,
// then force-blocks the same slots on every studio sibling. Returns ErrSlotUnavailable
// without mutating anything when any slot is taken. Sibling failures are logged and
// queued for repair; they never fail the call.
func (c *Coordinator) Reserve(ctx context.Context, resourceID uuid.UUID, date string, slots []string, opts ...Option) error {
	o := buildOptions(opts)
	slots, err := normalize(date, slots)
	if err != nil {
		return err
	}

	res, studio, err := c.store.Resolve(ctx, resourceID)
	if err != nil {
		return err
	}
	if !res.IsActive || (studio != nil && !studio.IsActive) {
		return ErrInactive
	}

	changed, err := c.store.Mutate(ctx, res, studio, date, func(current []string) ([]string, error) {
		if !o.force && !timeslot.IsSubset(slots, current) {
			taken := timeslot.Subtract(slots, current)
			return nil, ErrSlotUnavailable.With(fmt.Errorf("taken: %v", taken))
		}
		next := timeslot.Subtract(current, slots)
		if len(next) == len(current) {
			return nil, errNoChange
		}
		return next, nil
	})
	if err != nil {
		return err
	}

	if changed {
		c.emit(o, Change{Kind: ChangeReserved, ResourceID: res.ID, StudioID: studioID(studio), Date: date, Slots: slots})
	}
	if studio != nil {
		c.propagate(ctx, OpBlock, res, studio, date, slots, o)
	}

	log.Debug().
		Str("resource_id", res.ID.String()).
		Str("date", date).
		Strs("slots", slots).
		Bool("force", o.force).
		Msg("Slots reserved")
	return nil
}

// Release adds slots back to the primary resource and every studio sibling.
// Releasing slots that are already free is a no-op, and slots an external calendar
// block still holds on the studio stay blocked.
func (c *Coordinator) Release(ctx context.Context, resourceID uuid.UUID, date string, slots []string, opts ...Option) error {
	slots, err := normalize(date, slots)
	if err != nil {
		return err
	}
	_, err = c.release(ctx, resourceID, date, slots, buildOptions(opts))
	return err
}

// release frees normalized slots and returns the ones it actually handed back.
func (c *Coordinator) release(ctx context.Context, resourceID uuid.UUID, date string, slots []string, o callOptions) ([]string, error) {
	res, studio, err := c.store.Resolve(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	blocked, err := c.externallyBlocked(ctx, res, studio, date)
	if err != nil {
		return nil, err
	}
	if len(blocked) > 0 {
		slots = timeslot.Subtract(slots, blocked)
		if len(slots) == 0 {
			return nil, nil
		}
	}

	changed, err := c.store.Mutate(ctx, res, studio, date, releaseFunc(EffectiveHours(res, studio), slots))
	if err != nil {
		return nil, err
	}

	if changed {
		c.emit(o, Change{Kind: ChangeReleased, ResourceID: res.ID, StudioID: studioID(studio), Date: date, Slots: slots})
	}
	if studio != nil {
		c.propagate(ctx, OpRelease, res, studio, date, slots, o)
	}

	log.Debug().
		Str("resource_id", res.ID.String()).
		Str("date", date).
		Strs("slots", slots).
		Msg("Slots released")
	return slots, nil
}

// Unblock releases a manual block, leaving alone any slot that a live
// reservation or an external calendar block still holds on the resource or its studio.
func (c *Coordinator) Unblock(ctx context.Context, resourceID uuid.UUID, date string, slots []string, opts ...Option) ([]string, error) {
	slots, err := normalize(date, slots)
	if err != nil {
		return nil, err
	}

	if holds := c.holdVerifier(); holds != nil {
		res, err := c.repo.GetResource(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		held, err := holds.HeldSlots(ctx, res, date)
		if err != nil {
			return nil, err
		}
		slots = timeslot.Subtract(slots, held)
		if len(slots) == 0 {
			return nil, nil
		}
	}

	return c.release(ctx, resourceID, date, slots, buildOptions(opts))
}

// CheckAvailable reports whether every slot is currently free on the resource. It never writes.
func (c *Coordinator) CheckAvailable(ctx context.Context, resourceID uuid.UUID, date string, slots []string) (bool, error) {
	slots, err := normalize(date, slots)
	if err != nil {
		return false, err
	}

	res, studio, err := c.store.Resolve(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if !res.IsActive || (studio != nil && !studio.IsActive) {
		return false, ErrInactive
	}

	day, err := c.store.Load(ctx, res, studio, date)
	if err != nil {
		return false, err
	}
	return timeslot.IsSubset(slots, day.Times), nil
}

// FreeSlots returns the sorted free labels of the resource on date.
func (c *Coordinator) FreeSlots(ctx context.Context, resourceID uuid.UUID, date string) ([]string, error) {
	if !ValidDate(date) {
		return nil, ErrInvalidDate
	}

	res, studio, err := c.store.Resolve(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	day, err := c.store.Load(ctx, res, studio, date)
	if err != nil {
		return nil, err
	}
	free := append([]string(nil), day.Times...)
	timeslot.Sort(free)
	return free, nil
}

// propagate applies op to every sibling concurrently and waits for them, bounded by
// siblingTimeout. It detaches from the caller's cancellation so a dropped request
// does not leave the studio half-updated.
func (c *Coordinator) propagate(ctx context.Context, op Op, primary *Resource, studio *Studio, date string, slots []string, o callOptions) {
	base := context.WithoutCancel(ctx)

	siblings, err := c.repo.ListResourcesByStudio(base, studio.ID, primary.ID)
	if err != nil {
		log.Error().Err(err).
			Str("studio_id", studio.ID.String()).
			Str("resource_id", primary.ID.String()).
			Msg("Failed to list studio siblings, queued for repair")
		c.enqueueRepair(base, RepairTask{
			Op: op, StudioID: studio.ID, PrimaryID: primary.ID,
			Date: date, Slots: slots, ReservationID: o.reservationID,
		})
		return
	}
	if len(siblings) == 0 {
		return
	}

	pctx, cancel := context.WithTimeout(base, c.siblingTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, sib := range siblings {
		wg.Add(1)
		go func(sib *Resource) {
			defer wg.Done()
			if err := c.applyToSibling(pctx, op, sib, studio, date, slots, o); err != nil {
				log.Warn().Err(err).
					Str("op", string(op)).
					Str("studio_id", studio.ID.String()).
					Str("resource_id", sib.ID.String()).
					Str("date", date).
					Msg("Sibling update failed, queued for repair")
				c.enqueueRepair(base, RepairTask{
					Op: op, StudioID: studio.ID, PrimaryID: primary.ID, TargetID: sib.ID,
					Date: date, Slots: slots, ReservationID: o.reservationID,
				})
			}
		}(sib)
	}
	wg.Wait()
}

// applyToSibling force-blocks or releases slots on one sibling.
func (c *Coordinator) applyToSibling(ctx context.Context, op Op, sib *Resource, studio *Studio, date string, slots []string, o callOptions) error {
	var fn MutateFunc
	kind := ChangeReserved
	switch op {
	case OpBlock:
		fn = func(current []string) ([]string, error) {
			next := timeslot.Subtract(current, slots)
			if len(next) == len(current) {
				return nil, errNoChange
			}
			return next, nil
		}
	case OpRelease:
		fn = releaseFunc(EffectiveHours(sib, studio), slots)
		kind = ChangeReleased
	default:
		return fmt.Errorf("unknown op %q", op)
	}

	changed, err := c.store.Mutate(ctx, sib, studio, date, fn)
	if err != nil {
		return err
	}
	if changed {
		c.emit(o, Change{Kind: kind, ResourceID: sib.ID, StudioID: studioID(studio), Date: date, Slots: slots})
	}
	return nil
}

func (c *Coordinator) emit(o callOptions, change Change) {
	if o.touched != nil {
		o.touched(change.ResourceID)
	}
	if o.skipEmit || c.outbox == nil {
		return
	}
	c.outbox.Append(change)
}

// QueueRelease hands a release whose primary write failed to the repair worker,
// covering the resource itself and its studio siblings.
func (c *Coordinator) QueueRelease(ctx context.Context, studioID, resourceID uuid.UUID, date string, slots []string) {
	c.enqueueRepair(ctx, RepairTask{
		Op: OpRelease, StudioID: studioID, PrimaryID: resourceID, TargetID: resourceID,
		Date: date, Slots: slots,
	})
	if studioID != uuid.Nil {
		c.enqueueRepair(ctx, RepairTask{
			Op: OpRelease, StudioID: studioID, PrimaryID: resourceID,
			Date: date, Slots: slots,
		})
	}
}

func (c *Coordinator) enqueueRepair(ctx context.Context, task RepairTask) {
	if c.repairs == nil {
		return
	}
	task.CreatedAt = time.Now()
	if err := c.repairs.Push(ctx, task); err != nil {
		log.Error().Err(err).
			Str("studio_id", task.StudioID.String()).
			Str("date", task.Date).
			Msg("Failed to queue sibling repair")
	}
}

func releaseFunc(hours, slots []string) MutateFunc {
	add := timeslot.Intersect(slots, hours)
	return func(current []string) ([]string, error) {
		next := timeslot.Union(current, add)
		if len(next) == len(current) {
			return nil, errNoChange
		}
		return next, nil
	}
}

// ValidDate reports whether date is in DateLayout.
func ValidDate(date string) bool {
	_, err := time.Parse(DateLayout, date)
	return err == nil
}

func normalize(date string, slots []string) ([]string, error) {
	if !ValidDate(date) {
		return nil, ErrInvalidDate
	}
	if len(slots) == 0 || !timeslot.ValidAll(slots) {
		return nil, ErrInvalidSlots
	}
	return timeslot.Union(nil, slots), nil
}

func studioID(s *Studio) uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.ID
}

// Batch groups coordinator calls without per-call events and emits one aggregate change on Flush.
type Batch struct {
	c       *Coordinator
	mu      sync.Mutex
	touched map[uuid.UUID]struct{}
}

// NewBatch starts a batch.
func (c *Coordinator) NewBatch() *Batch {
	return &Batch{c: c, touched: make(map[uuid.UUID]struct{})}
}

func (b *Batch) track(id uuid.UUID) {
	b.mu.Lock()
	b.touched[id] = struct{}{}
	b.mu.Unlock()
}

func (b *Batch) options(opts []Option) []Option {
	return append(opts, SkipEmit(), func(o *callOptions) { o.touched = b.track })
}

// Reserve is Coordinator.Reserve in batch mode.
func (b *Batch) Reserve(ctx context.Context, resourceID uuid.UUID, date string, slots []string, opts ...Option) error {
	return b.c.Reserve(ctx, resourceID, date, slots, b.options(opts)...)
}

// Release is Coordinator.Release in batch mode.
func (b *Batch) Release(ctx context.Context, resourceID uuid.UUID, date string, slots []string, opts ...Option) error {
	return b.c.Release(ctx, resourceID, date, slots, b.options(opts)...)
}

// Unblock is Coordinator.Unblock in batch mode.
func (b *Batch) Unblock(ctx context.Context, resourceID uuid.UUID, date string, slots []string, opts ...Option) ([]string, error) {
	return b.c.Unblock(ctx, resourceID, date, slots, b.options(opts)...)
}

// Flush emits one aggregate change for every resource touched so far and resets the batch.
// It returns the number of resources in the event.
func (b *Batch) Flush() int {
	b.mu.Lock()
	ids := make([]uuid.UUID, 0, len(b.touched))
	for id := range b.touched {
		ids = append(ids, id)
	}
	b.touched = make(map[uuid.UUID]struct{})
	b.mu.Unlock()

	if len(ids) == 0 || b.c.outbox == nil {
		return len(ids)
	}
	b.c.outbox.Append(Change{Kind: ChangeBulk, Resources: ids, At: time.Now()})
	return len(ids)
}
