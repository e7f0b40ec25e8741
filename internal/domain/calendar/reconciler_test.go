package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/report"
	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
)

func TestSyncBlocksExternalEvents(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("dentist", 10, 2))

	res := f.sync(t, a.ID)

	assert.True(t, res.FullSync)
	assert.Equal(t, 1, res.Blocked)
	assert.NotContains(t, f.free(t), "10:00")
	assert.NotContains(t, f.free(t), "11:00")
	assert.Contains(t, f.free(t), "12:00")

	stored, err := f.repo.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", stored.SyncToken)
	assert.Equal(t, SyncStatusSuccess, stored.LastSyncStatus)

	blocks, err := f.repo.ListBlocks(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, []string{"10:00", "11:00"}, []string(blocks[0].Slots))
}

func TestSyncForceBlocksOverLocalAvailability(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	ctx := context.Background()
	require.NoError(t, f.coord.Reserve(ctx, f.res.ID, day, []string{"10:00"}))
	f.api.serve("primary", "", "s1", timed("ext", 10, 2))

	res := f.sync(t, a.ID)

	assert.Equal(t, 1, res.Blocked)
	assert.NotContains(t, f.free(t), "11:00")
}

func TestSyncEmitsOneAggregateChange(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("a", 9, 1), timed("b", 13, 1), timed("c", 15, 2))

	f.sync(t, a.ID)

	assert.Equal(t, 1, f.outbox.Pending())
}

func TestSyncMovedEventReleasesOldSpan(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("ext", 10, 2))
	f.api.serve("primary", "s1", "s2", timed("ext", 11, 2))

	f.sync(t, a.ID)
	res := f.sync(t, a.ID)

	assert.False(t, res.FullSync)
	free := f.free(t)
	assert.Contains(t, free, "10:00")
	assert.NotContains(t, free, "11:00")
	assert.NotContains(t, free, "12:00")
}

func TestSyncUnchangedEventIsSkipped(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("ext", 10, 1))
	f.api.serve("primary", "s1", "s2", timed("ext", 10, 1))

	f.sync(t, a.ID)
	res := f.sync(t, a.ID)

	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Blocked)
}

func TestSyncCancelledEventReleases(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("ext", 10, 2))
	f.api.serve("primary", "s1", "s2", cancelled("ext"))

	f.sync(t, a.ID)
	res := f.sync(t, a.ID)

	assert.Equal(t, 1, res.Released)
	assert.Contains(t, f.free(t), "10:00")
	assert.Contains(t, f.free(t), "11:00")

	blocks, err := f.repo.ListBlocks(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestSyncOverlappingEventKeepsSharedSlot(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("a", 10, 2), timed("b", 11, 2))
	f.api.serve("primary", "s1", "s2", cancelled("a"))

	f.sync(t, a.ID)
	f.sync(t, a.ID)

	free := f.free(t)
	assert.Contains(t, free, "10:00")
	assert.NotContains(t, free, "11:00")
	assert.NotContains(t, free, "12:00")
}

func TestSyncNeverReleasesReservedSlots(t *testing.T) {
	f := newFixture(t)
	f.coord.SetHoldVerifier(heldSlots{"10:00"})
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("ext", 10, 2))
	f.api.serve("primary", "s1", "s2", cancelled("ext"))

	f.sync(t, a.ID)
	f.sync(t, a.ID)

	free := f.free(t)
	assert.NotContains(t, free, "10:00")
	assert.Contains(t, free, "11:00")
}

func TestLocalReleaseKeepsExternalBlock(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	ctx := context.Background()
	require.NoError(t, f.coord.Reserve(ctx, f.res.ID, day, []string{"10:00"}))
	f.api.serve("primary", "", "s1", timed("ext", 10, 1))
	f.api.serve("primary", "s1", "s2", timed("ext", 10, 1))
	f.sync(t, a.ID)

	// The reservation that held 10:00 is cancelled.
	require.NoError(t, f.coord.Release(ctx, f.res.ID, day, []string{"10:00"}))
	assert.NotContains(t, f.free(t), "10:00")

	res := f.sync(t, a.ID)
	assert.Equal(t, 1, res.Skipped)
	assert.NotContains(t, f.free(t), "10:00")
}

func TestVendorUnblockKeepsExternalBlock(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("ext", 10, 2))
	f.sync(t, a.ID)

	released, err := f.coord.Unblock(context.Background(), f.res.ID, day, []string{"10:00", "11:00", "12:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"12:00"}, released)
	free := f.free(t)
	assert.NotContains(t, free, "10:00")
	assert.NotContains(t, free, "11:00")
}

func TestSiblingReleaseKeepsExternalBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	studio := &availability.Studio{ID: uuid.New(), VendorID: f.res.VendorID, Name: "Loft", IsActive: true}
	require.NoError(t, f.avail.SaveStudio(ctx, studio))
	studioID := uuid.NullUUID{UUID: studio.ID, Valid: true}
	hall := &availability.Resource{ID: uuid.New(), StudioID: studioID, VendorID: studio.VendorID, Name: "Hall", Price: 1000, IsActive: true}
	cyc := &availability.Resource{ID: uuid.New(), StudioID: studioID, VendorID: studio.VendorID, Name: "Cyclorama", Price: 1000, IsActive: true}
	require.NoError(t, f.avail.SaveResource(ctx, hall))
	require.NoError(t, f.avail.SaveResource(ctx, cyc))

	expires := time.Now().Add(time.Hour)
	a := &Account{ID: uuid.New(), VendorID: studio.VendorID, ResourceID: hall.ID, CalendarID: "hall", IsActive: true}
	require.NoError(t, f.creds.Seal(a, "access", "refresh", &expires))
	require.NoError(t, f.repo.SaveAccount(ctx, a))

	require.NoError(t, f.coord.Reserve(ctx, cyc.ID, day, []string{"10:00"}))
	f.api.serve("hall", "", "s1", timed("ext", 10, 1))
	f.sync(t, a.ID)

	require.NoError(t, f.coord.Release(ctx, cyc.ID, day, []string{"10:00"}))

	for _, id := range []uuid.UUID{hall.ID, cyc.ID} {
		free, err := f.coord.FreeSlots(ctx, id, day)
		require.NoError(t, err)
		assert.NotContains(t, free, "10:00")
	}
}

func TestSyncIgnoresInternalEvents(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	internal := timed("ours", 10, 1)
	internal.ExtendedProperties = &calendarapi.ExtendedProperties{Private: map[string]string{OriginKey: OriginInternal}}
	f.api.serve("primary", "", "s1", internal)

	res := f.sync(t, a.ID)

	assert.Equal(t, 1, res.Skipped)
	assert.Contains(t, f.free(t), "10:00")
}

func TestSyncCountsInvalidEvents(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("overnight", 23, 3), timed("ok", 9, 1))

	res := f.sync(t, a.ID)

	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, res.Blocked)
}

func TestSyncExpiredTokenRunsFullSync(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("gone", 10, 1), timed("kept", 14, 1))
	f.sync(t, a.ID)

	// The incremental token is unknown, so the fake reports it expired; the full list
	// no longer contains "gone".
	f.api.serve("primary", "", "s9", timed("kept", 14, 1))
	res := f.sync(t, a.ID)

	assert.True(t, res.FullSync)
	assert.Equal(t, 1, res.Released)
	assert.Contains(t, f.free(t), "10:00")
	assert.NotContains(t, f.free(t), "14:00")

	stored, err := f.repo.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "s9", stored.SyncToken)
}

func TestSyncInactiveResourceIsSkipped(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.res.IsActive = false
	require.NoError(t, f.avail.SaveResource(context.Background(), f.res))
	f.api.serve("primary", "", "s1", timed("ext", 10, 1))

	res := f.sync(t, a.ID)

	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Error)
}

func TestRunAllIsolatesFailingAccounts(t *testing.T) {
	f := newFixture(t)
	broken := f.account(t, "broken")
	healthy := f.account(t, "healthy")
	f.api.fail["broken"] = errors.New("upstream down")
	f.api.serve("healthy", "", "s1", timed("ext", 10, 1))

	results, err := f.rec.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]*SyncResult{}
	for _, r := range results {
		byID[r.AccountID.String()] = r
	}
	assert.Contains(t, byID[broken.ID.String()].Error, "upstream down")
	assert.Empty(t, byID[healthy.ID.String()].Error)
	assert.NotContains(t, f.free(t), "10:00")

	stored, err := f.repo.GetAccount(context.Background(), broken.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncStatusError, stored.LastSyncStatus)
	assert.Empty(t, stored.SyncToken)
}

func TestSyncReportsUnavailableCredential(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	past := time.Now().Add(-time.Hour)
	a.TokenExpiresAt = &past
	require.NoError(t, f.repo.SaveAccount(context.Background(), a))
	f.refresher.err = calendarapi.ErrUnauthorized

	res, err := f.rec.Sync(context.Background(), a.ID)

	assert.ErrorIs(t, err, ErrCredentialUnavailable)
	assert.NotEmpty(t, res.Error)
	require.Len(t, f.reporter.incidents, 1)
	assert.Equal(t, report.KindCalendarSyncFailed, f.reporter.incidents[0].Kind)
}

func TestReleaseFreesEveryBlock(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("a", 10, 1), timed("b", 15, 2))
	f.sync(t, a.ID)

	released, err := f.rec.Release(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, 2, released)
	assert.Len(t, f.free(t), 12)
}

func TestSchedulerRunsImmediately(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	f.api.serve("primary", "", "s1", timed("ext", 10, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(f.rec, time.Hour, time.Second).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stored, err := f.repo.GetAccount(context.Background(), a.ID)
		return err == nil && stored.LastSyncStatus == SyncStatusSuccess
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.NotContains(t, f.free(t), "10:00")
}

var _ availability.HoldVerifier = heldSlots(nil)
