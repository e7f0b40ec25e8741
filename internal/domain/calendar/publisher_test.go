package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/domain/reservation"
)

func TestPublisherRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.account(t, "primary")
	p := NewPublisher(f.repo, f.api, f.creds, time.UTC)
	ctx := context.Background()

	r := &reservation.Reservation{
		ID:          uuid.New(),
		ResourceID:  f.res.ID,
		BookingDate: day,
		TimeSlots:   []string{"10:00", "11:00"},
		Status:      reservation.StatusConfirmed,
	}

	eventID, err := p.PublishReservation(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", eventID)

	require.Len(t, f.api.created, 1)
	ev := f.api.created[0]
	assert.True(t, IsInternal(&ev))
	assert.Equal(t, r.ID.String(), ev.Private(ReservationKey))
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), *ev.Start.DateTime)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), *ev.End.DateTime)

	// Mapping the published event back yields the reserved span.
	date, slots, err := MapEvent(&ev, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, day, date)
	assert.Equal(t, []string(r.TimeSlots), slots)

	r.ExternalEventID = eventID
	again, err := p.PublishReservation(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, eventID, again)
	assert.Equal(t, []string{eventID}, f.api.updated)

	require.NoError(t, p.RemoveReservation(ctx, r))
	assert.Equal(t, []string{eventID}, f.api.deleted)
}

func TestPublisherIgnoresUnconnectedResource(t *testing.T) {
	f := newFixture(t)
	p := NewPublisher(f.repo, f.api, f.creds, time.UTC)

	eventID, err := p.PublishReservation(context.Background(), &reservation.Reservation{
		ID:          uuid.New(),
		ResourceID:  uuid.New(),
		BookingDate: day,
		TimeSlots:   []string{"10:00"},
	})
	require.NoError(t, err)
	assert.Empty(t, eventID)
	assert.Empty(t, f.api.created)
}

func TestPublishedEventsAreNotReimported(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "primary")
	p := NewPublisher(f.repo, f.api, f.creds, time.UTC)

	_, err := p.PublishReservation(context.Background(), &reservation.Reservation{
		ID:          uuid.New(),
		ResourceID:  f.res.ID,
		BookingDate: day,
		TimeSlots:   []string{"10:00"},
	})
	require.NoError(t, err)

	ev := f.api.created[0]
	ev.ID = "evt-1"
	f.api.serve("primary", "", "s1", ev)
	res := f.sync(t, a.ID)

	assert.Equal(t, 1, res.Skipped)
	assert.Contains(t, f.free(t), "10:00")
}
