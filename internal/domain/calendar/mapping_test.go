package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

func at(hour, minute int) *time.Time {
	t := time.Date(2024, 6, 1, hour, minute, 0, 0, time.UTC)
	return &t
}

func TestMapEvent(t *testing.T) {
	tests := []struct {
		name      string
		start     *time.Time
		end       *time.Time
		wantDate  string
		wantSlots []string
	}{
		{"whole hours", at(10, 0), at(12, 0), "2024-06-01", []string{"10:00", "11:00"}},
		{"partial hour rounds up", at(10, 30), at(11, 15), "2024-06-01", []string{"10:00"}},
		{"one minute over", at(10, 0), at(11, 1), "2024-06-01", []string{"10:00", "11:00"}},
		{"ends at midnight", at(22, 0), at(24, 0), "2024-06-01", []string{"22:00", "23:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &calendarapi.Event{
				Start: calendarapi.EventTime{DateTime: tt.start},
				End:   calendarapi.EventTime{DateTime: tt.end},
			}
			date, slots, err := MapEvent(ev, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate, date)
			assert.Equal(t, tt.wantSlots, slots)
		})
	}
}

func TestMapEventUsesLocation(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*3600)
	ev := &calendarapi.Event{
		Start: calendarapi.EventTime{DateTime: at(20, 0)},
		End:   calendarapi.EventTime{DateTime: at(21, 0)},
	}

	date, slots, err := MapEvent(ev, almaty)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", date)
	assert.Equal(t, []string{"01:00"}, slots)
}

func TestMapEventAllDay(t *testing.T) {
	ev := &calendarapi.Event{
		Start: calendarapi.EventTime{Date: "2024-06-01"},
		End:   calendarapi.EventTime{Date: "2024-06-02"},
	}

	date, slots, err := MapEvent(ev, nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", date)
	assert.Equal(t, timeslot.FullDay(), slots)
}

func TestMapEventRejectsInvalidSpans(t *testing.T) {
	tests := []struct {
		name string
		ev   calendarapi.Event
	}{
		{"end before start", calendarapi.Event{
			Start: calendarapi.EventTime{DateTime: at(12, 0)},
			End:   calendarapi.EventTime{DateTime: at(10, 0)},
		}},
		{"zero length", calendarapi.Event{
			Start: calendarapi.EventTime{DateTime: at(12, 0)},
			End:   calendarapi.EventTime{DateTime: at(12, 0)},
		}},
		{"overnight", calendarapi.Event{
			Start: calendarapi.EventTime{DateTime: at(23, 0)},
			End:   calendarapi.EventTime{DateTime: at(25, 0)},
		}},
		{"missing end", calendarapi.Event{
			Start: calendarapi.EventTime{DateTime: at(10, 0)},
		}},
		{"multi-day all-day", calendarapi.Event{
			Start: calendarapi.EventTime{Date: "2024-06-01"},
			End:   calendarapi.EventTime{Date: "2024-06-03"},
		}},
		{"bad date", calendarapi.Event{
			Start: calendarapi.EventTime{Date: "06/01/2024"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := MapEvent(&tt.ev, time.UTC)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestIsInternal(t *testing.T) {
	tagged := &calendarapi.Event{ExtendedProperties: &calendarapi.ExtendedProperties{
		Private: map[string]string{OriginKey: OriginInternal},
	}}
	marked := &calendarapi.Event{Description: "Reservation abc\n" + InternalMarker}
	external := &calendarapi.Event{Description: "Dentist"}

	assert.True(t, IsInternal(tagged))
	assert.True(t, IsInternal(marked))
	assert.False(t, IsInternal(external))
}
