package availability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/domain/report"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const day = "2024-06-01"

type fixture struct {
	repo    *MemoryRepository
	outbox  *Outbox
	repairs *MemoryRepairQueue
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, NewMemoryRepository(), nil)
}

func newFixtureWithRepo(t *testing.T, mem *MemoryRepository, repo Repository) *fixture {
	t.Helper()
	if repo == nil {
		repo = mem
	}
	f := &fixture{
		repo:    mem,
		outbox:  NewOutbox(256),
		repairs: NewMemoryRepairQueue(),
	}
	f.coord = NewCoordinator(repo, CoordinatorConfig{Outbox: f.outbox, Repairs: f.repairs})
	return f
}

func (f *fixture) studio(t *testing.T, hours ...string) *Studio {
	t.Helper()
	s := &Studio{ID: uuid.New(), VendorID: uuid.New(), Name: "Loft", OperatingHours: hours, IsActive: true}
	require.NoError(t, f.repo.SaveStudio(context.Background(), s))
	return s
}

func (f *fixture) resource(t *testing.T, studio *Studio) *Resource {
	t.Helper()
	res := &Resource{ID: uuid.New(), Name: "Room", Price: 1000, IsActive: true}
	if studio != nil {
		res.StudioID = uuid.NullUUID{UUID: studio.ID, Valid: true}
		res.VendorID = studio.VendorID
	}
	require.NoError(t, f.repo.SaveResource(context.Background(), res))
	return res
}

func (f *fixture) free(t *testing.T, id uuid.UUID, date string) []string {
	t.Helper()
	free, err := f.coord.FreeSlots(context.Background(), id, date)
	require.NoError(t, err)
	return free
}

func drain(o *Outbox) []Change {
	var out []Change
	for {
		select {
		case c := <-o.ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestReservePropagatesToStudioSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)
	other := f.resource(t, f.studio(t))

	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"}))

	assert.NotContains(t, f.free(t, r1.ID, day), "10:00")
	assert.NotContains(t, f.free(t, r2.ID, day), "10:00")
	assert.NotContains(t, f.free(t, r2.ID, day), "11:00")
	assert.Len(t, f.free(t, r2.ID, day), 22)
	assert.Equal(t, timeslot.FullDay(), f.free(t, r1.ID, "2024-06-02"))
	assert.Equal(t, timeslot.FullDay(), f.free(t, other.ID, day))

	changed := map[uuid.UUID]ChangeKind{}
	for _, c := range drain(f.outbox) {
		changed[c.ResourceID] = c.Kind
	}
	assert.Equal(t, map[uuid.UUID]ChangeKind{r1.ID: ChangeReserved, r2.ID: ChangeReserved}, changed)
}

func TestReserveRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r1 := f.resource(t, f.studio(t))

	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00"}))

	err := f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	free := f.free(t, r1.ID, day)
	assert.NotContains(t, free, "10:00")
	assert.Contains(t, free, "11:00")
}

func TestConcurrentReserveAdmitsOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	f.resource(t, s)

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots := []string{"10:00", "11:00"}
			if i%2 == 0 {
				slots = []string{"11:00"}
			}
			err := f.coord.Reserve(ctx, r1.ID, day, slots)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrSlotUnavailable)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.NotContains(t, f.free(t, r1.ID, day), "11:00")
}

func TestReleaseRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)

	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"08:00"}))
	before1 := f.free(t, r1.ID, day)
	before2 := f.free(t, r2.ID, day)

	slots := []string{"14:00", "15:00", "16:00"}
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, slots))
	require.NoError(t, f.coord.Release(ctx, r1.ID, day, slots))
	require.NoError(t, f.coord.Release(ctx, r1.ID, day, slots))

	assert.Equal(t, before1, f.free(t, r1.ID, day))
	assert.Equal(t, before2, f.free(t, r2.ID, day))
}

func TestReleaseStaysWithinOperatingHours(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t, "09:00", "10:00", "11:00")
	r1 := f.resource(t, s)

	require.NoError(t, f.coord.Release(ctx, r1.ID, day, []string{"20:00"}))
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, f.free(t, r1.ID, day))

	err := f.coord.Reserve(ctx, r1.ID, day, []string{"20:00"})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestReserveInactiveGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)

	r1.IsActive = false
	require.NoError(t, f.repo.SaveResource(ctx, r1))
	assert.ErrorIs(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00"}), ErrInactive)

	r1.IsActive = true
	require.NoError(t, f.repo.SaveResource(ctx, r1))
	s.IsActive = false
	require.NoError(t, f.repo.SaveStudio(ctx, s))
	assert.ErrorIs(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00"}), ErrInactive)

	stored, err := f.repo.GetDay(ctx, r1.ID, day)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestReserveValidatesBeforeStoreAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	missing := uuid.New()

	assert.ErrorIs(t, f.coord.Reserve(ctx, missing, "06/01/2024", []string{"10:00"}), ErrInvalidDate)
	assert.ErrorIs(t, f.coord.Reserve(ctx, missing, day, nil), ErrInvalidSlots)
	assert.ErrorIs(t, f.coord.Reserve(ctx, missing, day, []string{"10:30"}), ErrInvalidSlots)
	assert.ErrorIs(t, f.coord.Reserve(ctx, missing, day, []string{"10:00"}), ErrResourceNotFound)
}

func TestCheckAvailableDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r1 := f.resource(t, nil)

	ok, err := f.coord.CheckAvailable(ctx, r1.ID, day, []string{"10:00"})
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := f.repo.GetDay(ctx, r1.ID, day)
	require.NoError(t, err)
	assert.Nil(t, stored)

	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00"}))
	ok, err = f.coord.CheckAvailable(ctx, r1.ID, day, []string{"09:00", "10:00"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForceBlocksWhateverIsFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r1 := f.resource(t, nil)

	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00"}))
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"}, Force()))
	assert.NotContains(t, f.free(t, r1.ID, day), "11:00")
}

func TestBatchEmitsOneAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)

	b := f.coord.NewBatch()
	require.NoError(t, b.Reserve(ctx, r1.ID, day, []string{"10:00"}, Force()))
	require.NoError(t, b.Reserve(ctx, r1.ID, "2024-06-02", []string{"12:00"}, Force()))
	require.NoError(t, b.Release(ctx, r1.ID, day, []string{"10:00"}))
	assert.Empty(t, drain(f.outbox))

	assert.Equal(t, 2, b.Flush())
	events := drain(f.outbox)
	require.Len(t, events, 1)
	assert.Equal(t, ChangeBulk, events[0].Kind)
	assert.ElementsMatch(t, []uuid.UUID{r1.ID, r2.ID}, events[0].Resources)

	assert.Equal(t, 0, b.Flush())
	assert.Empty(t, drain(f.outbox))
}

type failingRepo struct {
	*MemoryRepository
	mu     sync.Mutex
	failOn map[uuid.UUID]bool
}

func (r *failingRepo) SaveDay(ctx context.Context, d *DateAvailability) error {
	r.mu.Lock()
	fail := r.failOn[d.ResourceID]
	r.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return r.MemoryRepository.SaveDay(ctx, d)
}

func (r *failingRepo) heal() {
	r.mu.Lock()
	r.failOn = nil
	r.mu.Unlock()
}

type stubHolds struct {
	held   bool
	slots  []string
	checks atomic.Int32
}

func (s *stubHolds) Holds(context.Context, uuid.UUID, string, []string) (bool, error) {
	s.checks.Add(1)
	return s.held, nil
}

func (s *stubHolds) HeldSlots(context.Context, *Resource, string) ([]string, error) {
	return s.slots, nil
}

type recordingReporter struct {
	incidents []report.Incident
}

func (r *recordingReporter) Report(_ context.Context, inc report.Incident) error {
	r.incidents = append(r.incidents, inc)
	return nil
}

func TestSiblingFailureIsQueuedAndRepaired(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRepository()
	repo := &failingRepo{MemoryRepository: mem}
	f := newFixtureWithRepo(t, mem, repo)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)
	repo.failOn = map[uuid.UUID]bool{r2.ID: true}

	reservationID := uuid.New()
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00"}, ForReservation(reservationID)))
	assert.NotContains(t, f.free(t, r1.ID, day), "10:00")
	assert.Contains(t, f.free(t, r2.ID, day), "10:00")

	n, err := f.repairs.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	holds := &stubHolds{held: true}
	f.coord.SetHoldVerifier(holds)
	repo.heal()

	worker := NewRepairWorker(f.coord, f.repairs, nil, 3)
	assert.Equal(t, 1, worker.RunOnce(ctx))
	assert.NotContains(t, f.free(t, r2.ID, day), "10:00")
	assert.Equal(t, int32(1), holds.checks.Load())
}

func TestRepairSkipsReleasedReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)
	f.coord.SetHoldVerifier(&stubHolds{held: false})

	require.NoError(t, f.repairs.Push(ctx, RepairTask{
		Op: OpBlock, StudioID: s.ID, PrimaryID: r1.ID, TargetID: r2.ID,
		Date: day, Slots: []string{"10:00"}, ReservationID: uuid.New(),
	}))

	worker := NewRepairWorker(f.coord, f.repairs, nil, 3)
	assert.Equal(t, 1, worker.RunOnce(ctx))
	assert.Contains(t, f.free(t, r2.ID, day), "10:00")
}

func TestRepairReleaseKeepsHeldSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"}))
	f.coord.SetHoldVerifier(&stubHolds{slots: []string{"11:00"}})

	require.NoError(t, f.repairs.Push(ctx, RepairTask{
		Op: OpRelease, StudioID: s.ID, PrimaryID: r1.ID,
		Date: day, Slots: []string{"10:00", "11:00"},
	}))

	worker := NewRepairWorker(f.coord, f.repairs, nil, 3)
	assert.Equal(t, 1, worker.RunOnce(ctx))
	free := f.free(t, r2.ID, day)
	assert.Contains(t, free, "10:00")
	assert.NotContains(t, free, "11:00")
}

func TestRepairExhaustedIsReported(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRepository()
	repo := &failingRepo{MemoryRepository: mem}
	f := newFixtureWithRepo(t, mem, repo)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)
	repo.failOn = map[uuid.UUID]bool{r2.ID: true}

	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00"}))

	reporter := &recordingReporter{}
	worker := NewRepairWorker(f.coord, f.repairs, reporter, 2)
	assert.Equal(t, 0, worker.RunOnce(ctx))
	n, _ := f.repairs.Len(ctx)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, 0, worker.RunOnce(ctx))
	n, _ = f.repairs.Len(ctx)
	assert.Equal(t, int64(0), n)
	require.Len(t, reporter.incidents, 1)
	assert.Equal(t, report.KindSiblingRepairExhausted, reporter.incidents[0].Kind)
	assert.Equal(t, r2.ID.String(), reporter.incidents[0].Details["target_id"])
}

func TestUnblockLeavesHeldSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r1 := f.resource(t, f.studio(t))
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"}))
	f.coord.SetHoldVerifier(&stubHolds{slots: []string{"10:00"}})

	released, err := f.coord.Unblock(ctx, r1.ID, day, []string{"10:00", "11:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"11:00"}, released)

	free := f.free(t, r1.ID, day)
	assert.NotContains(t, free, "10:00")
	assert.Contains(t, free, "11:00")
}

type stubBlocks map[uuid.UUID][]string

func (s stubBlocks) BlockedSlots(_ context.Context, ids []uuid.UUID, _ string) ([]string, error) {
	var out []string
	for _, id := range ids {
		out = timeslot.Union(out, s[id])
	}
	return out, nil
}

func TestReleaseKeepsExternallyBlockedSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"}))
	f.coord.SetBlockVerifier(stubBlocks{r2.ID: {"10:00"}})

	require.NoError(t, f.coord.Release(ctx, r1.ID, day, []string{"10:00", "11:00"}))

	for _, id := range []uuid.UUID{r1.ID, r2.ID} {
		free := f.free(t, id, day)
		assert.NotContains(t, free, "10:00")
		assert.Contains(t, free, "11:00")
	}
}

func TestUnblockLeavesExternallyBlockedSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r1 := f.resource(t, nil)
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"}))
	f.coord.SetBlockVerifier(stubBlocks{r1.ID: {"10:00", "11:00"}})

	released, err := f.coord.Unblock(ctx, r1.ID, day, []string{"10:00", "11:00"})
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.NotContains(t, f.free(t, r1.ID, day), "10:00")
}

func TestRepairReleaseKeepsExternallyBlockedSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.studio(t)
	r1 := f.resource(t, s)
	r2 := f.resource(t, s)
	require.NoError(t, f.coord.Reserve(ctx, r1.ID, day, []string{"10:00", "11:00"}))
	f.coord.SetBlockVerifier(stubBlocks{r1.ID: {"11:00"}})

	require.NoError(t, f.repairs.Push(ctx, RepairTask{
		Op: OpRelease, StudioID: s.ID, PrimaryID: r1.ID,
		Date: day, Slots: []string{"10:00", "11:00"},
	}))

	worker := NewRepairWorker(f.coord, f.repairs, nil, 3)
	assert.Equal(t, 1, worker.RunOnce(ctx))
	free := f.free(t, r2.ID, day)
	assert.Contains(t, free, "10:00")
	assert.NotContains(t, free, "11:00")
}
