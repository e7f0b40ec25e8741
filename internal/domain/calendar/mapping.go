package calendar

import (
	"strings"
	"time"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

// Events written by the engine carry one of these tags so the reconciler never reads them back as blocks.
const (
	OriginKey      = "studiobook_origin"
	OriginInternal = "internal"
	InternalMarker = "[studiobook:internal]"
	ReservationKey = "studiobook_reservation"
)

// IsInternal reports whether the event was written by the engine itself.
func IsInternal(ev *calendarapi.Event) bool {
	return ev.Private(OriginKey) == OriginInternal || strings.Contains(ev.Description, InternalMarker)
}

// MapEvent converts an external event into the date and contiguous slots it blocks.
// The start hour in loc is the first slot and the duration is rounded up to whole hours.
// All-day events block the full day. Spans that end before they start, cross midnight
// or cover several all-day dates return ErrInvalidEvent.
func MapEvent(ev *calendarapi.Event, loc *time.Location) (string, []string, error) {
	if loc == nil {
		loc = time.UTC
	}

	if ev.Start.DateTime == nil {
		return mapAllDay(ev)
	}
	if ev.End.DateTime == nil {
		return "", nil, ErrInvalidEvent
	}

	start := ev.Start.DateTime.In(loc)
	end := ev.End.DateTime.In(loc)
	if !end.After(start) {
		return "", nil, ErrInvalidEvent
	}

	first := time.Date(start.Year(), start.Month(), start.Day(), start.Hour(), 0, 0, 0, loc)
	span := end.Sub(start)
	hours := int(span / time.Hour)
	if span%time.Hour != 0 {
		hours++
	}
	if start.Hour()+hours > timeslot.HoursPerDay {
		return "", nil, ErrInvalidEvent
	}

	slots, err := timeslot.Generate(timeslot.Label(first.Hour()), hours)
	if err != nil {
		return "", nil, ErrInvalidEvent
	}
	return first.Format(availability.DateLayout), slots, nil
}

func mapAllDay(ev *calendarapi.Event) (string, []string, error) {
	day, err := time.Parse(availability.DateLayout, ev.Start.Date)
	if err != nil {
		return "", nil, ErrInvalidEvent
	}
	if ev.End.Date != "" {
		end, err := time.Parse(availability.DateLayout, ev.End.Date)
		if err != nil || end.Sub(day) != 24*time.Hour {
			return "", nil, ErrInvalidEvent
		}
	}
	return ev.Start.Date, timeslot.FullDay(), nil
}
