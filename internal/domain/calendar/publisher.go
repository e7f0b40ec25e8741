package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studiobook/studiobook-api/internal/domain/reservation"
	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

// Publisher writes reservations to the vendor's connected calendar as internally
// tagged events. Resources without a connected account are ignored.
type Publisher struct {
	repo  Repository
	api   API
	creds *CredentialSource
	loc   *time.Location
}

// NewPublisher creates a publisher.
func NewPublisher(repo Repository, api API, creds *CredentialSource, loc *time.Location) *Publisher {
	if loc == nil {
		loc = time.UTC
	}
	return &Publisher{repo: repo, api: api, creds: creds, loc: loc}
}

// PublishReservation creates or updates the event for r and returns its id.
func (p *Publisher) PublishReservation(ctx context.Context, r *reservation.Reservation) (string, error) {
	a, token, err := p.account(ctx, r)
	if err != nil || a == nil {
		return "", err
	}

	ev, err := p.event(r)
	if err != nil {
		return "", err
	}

	if r.ExternalEventID != "" {
		if err := p.api.UpdateEvent(ctx, token, a.CalendarID, r.ExternalEventID, ev); err != nil {
			return "", err
		}
		return r.ExternalEventID, nil
	}
	return p.api.CreateEvent(ctx, token, a.CalendarID, ev)
}

// RemoveReservation deletes the event written for r.
func (p *Publisher) RemoveReservation(ctx context.Context, r *reservation.Reservation) error {
	if r.ExternalEventID == "" {
		return nil
	}
	a, token, err := p.account(ctx, r)
	if err != nil || a == nil {
		return err
	}
	return p.api.DeleteEvent(ctx, token, a.CalendarID, r.ExternalEventID)
}

func (p *Publisher) account(ctx context.Context, r *reservation.Reservation) (*Account, string, error) {
	a, err := p.repo.FindByResource(ctx, r.ResourceID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	token, err := p.creds.AccessToken(ctx, a)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

func (p *Publisher) event(r *reservation.Reservation) (calendarapi.Event, error) {
	if len(r.TimeSlots) == 0 {
		return calendarapi.Event{}, ErrInvalidEvent
	}
	day, err := time.ParseInLocation("2006-01-02", r.BookingDate, p.loc)
	if err != nil {
		return calendarapi.Event{}, ErrInvalidEvent.With(err)
	}
	hour, err := timeslot.Hour(r.TimeSlots[0])
	if err != nil {
		return calendarapi.Event{}, ErrInvalidEvent.With(err)
	}

	start := day.Add(time.Duration(hour) * time.Hour)
	end := start.Add(time.Duration(len(r.TimeSlots)) * time.Hour)
	return calendarapi.Event{
		Summary:     fmt.Sprintf("Booking %s", r.ID.String()[:8]),
		Description: fmt.Sprintf("Reservation %s (%s)\n%s", r.ID, r.Status, InternalMarker),
		Start:       calendarapi.EventTime{DateTime: &start, TimeZone: p.loc.String()},
		End:         calendarapi.EventTime{DateTime: &end, TimeZone: p.loc.String()},
		ExtendedProperties: &calendarapi.ExtendedProperties{Private: map[string]string{
			OriginKey:      OriginInternal,
			ReservationKey: r.ID.String(),
		}},
	}, nil
}
