package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/report"
	"github.com/studiobook/studiobook-api/internal/pkg/jwt"
	"github.com/studiobook/studiobook-api/internal/pkg/payment"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

// Notification kinds sent by the lifecycle.
const (
	EventRequested     = "reservation.requested"
	EventConfirmed     = "reservation.confirmed"
	EventCancelled     = "reservation.cancelled"
	EventRejected      = "reservation.rejected"
	EventExpired       = "reservation.expired"
	EventPaymentFailed = "reservation.payment_failed"
	EventRescheduled   = "reservation.rescheduled"
	EventResized       = "reservation.resized"
)

const (
	defaultHoldTTL    = 30 * time.Minute
	maxUpdateAttempts = 8
	sweepBatch        = 500
)

// Notifier is the fire-and-forget notification boundary.
type Notifier interface {
	Notify(ctx context.Context, kind string, recipientID uuid.UUID, payload map[string]any)
}

// CalendarSync mirrors reservations onto the vendor's external calendar.
// PublishReservation returns the external event id, or "" when the vendor has no calendar.
type CalendarSync interface {
	PublishReservation(ctx context.Context, r *Reservation) (string, error)
	RemoveReservation(ctx context.Context, r *Reservation) error
}

// Reporter records incidents for operator follow-up.
type Reporter interface {
	Report(ctx context.Context, inc report.Incident) error
}

// Actor is whoever invokes a lifecycle operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// System is the actor used by background jobs and trusted integrations.
var System = Actor{Role: "system"}

func (a Actor) privileged() bool {
	return a.Role == jwt.RoleAdmin || a.Role == System.Role
}

// canAccess allows the customer, the vendor and privileged actors.
func (a Actor) canAccess(r *Reservation) error {
	if a.privileged() || (a.ID != uuid.Nil && (a.ID == r.CustomerID || a.ID == r.VendorID)) {
		return nil
	}
	return ErrForbidden
}

// canManage allows the vendor and privileged actors.
func (a Actor) canManage(r *Reservation) error {
	if a.privileged() || (a.ID != uuid.Nil && a.ID == r.VendorID) {
		return nil
	}
	return ErrForbidden
}

// Deps holds the collaborators of Service. Payments, Notifier, Calendar and Reporter may be nil.
type Deps struct {
	Repo        Repository
	Resources   availability.Repository
	Coordinator *availability.Coordinator
	Payments    payment.Gateway
	Notifier    Notifier
	Calendar    CalendarSync
	Reporter    Reporter
	HoldTTL     time.Duration
}

// Service drives the reservation state machine.
type Service struct {
	repo      Repository
	resources availability.Repository
	coord     *availability.Coordinator
	payments  payment.Gateway
	notifier  Notifier
	calendar  CalendarSync
	reporter  Reporter
	holdTTL   time.Duration
	now       func() time.Time
}

// NewService creates the lifecycle service and registers it as the coordinator's hold verifier.
func NewService(d Deps) *Service {
	ttl := d.HoldTTL
	if ttl <= 0 {
		ttl = defaultHoldTTL
	}
	s := &Service{
		repo:      d.Repo,
		resources: d.Resources,
		coord:     d.Coordinator,
		payments:  d.Payments,
		notifier:  d.Notifier,
		calendar:  d.Calendar,
		reporter:  d.Reporter,
		holdTTL:   ttl,
		now:       time.Now,
	}
	d.Coordinator.SetHoldVerifier(s)
	return s
}

// PaymentInput carries the optional card payment of a create request.
type PaymentInput struct {
	CardToken string
	SaveCard  bool
	Email     string
}

// CreateInput describes a new reservation.
type CreateInput struct {
	ResourceID      uuid.UUID
	Date            string
	StartTime       string
	Hours           int
	Discount        int64
	ExternalOrderID string
	Payment         *PaymentInput
}

// Create reserves the span and records the reservation as PENDING or, for instant-book
// resources, CONFIRMED. A declined charge moves it to PAYMENT_FAILED and frees the slots.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*Reservation, error) {
	if !availability.ValidDate(in.Date) {
		return nil, ErrInvalidDate
	}
	slots, err := timeslot.Generate(in.StartTime, in.Hours)
	if err != nil {
		return nil, ErrInvalidSpan.With(err)
	}
	if in.Discount < 0 {
		return nil, ErrInvalidDiscount
	}

	res, err := s.coord.Resource(ctx, in.ResourceID)
	if err != nil {
		return nil, err
	}

	r := &Reservation{
		ID:              uuid.New(),
		ResourceID:      res.ID,
		StudioID:        res.StudioID,
		VendorID:        res.VendorID,
		CustomerID:      actor.ID,
		BookingDate:     in.Date,
		TimeSlots:       pq.StringArray(slots),
		Status:          StatusPending,
		ItemPrice:       res.Price,
		Discount:        in.Discount,
		ExternalOrderID: in.ExternalOrderID,
	}
	r.RecomputeTotal()
	if r.TotalPrice < 0 {
		return nil, ErrInvalidDiscount
	}
	if res.InstantBook {
		r.Status = StatusConfirmed
	} else {
		exp := s.now().Add(s.holdTTL)
		r.ExpiresAt = &exp
	}

	if err := s.coord.Reserve(ctx, res.ID, in.Date, slots, availability.ForReservation(r.ID)); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, r); err != nil {
		s.releaseSlots(ctx, r.StudioID.UUID, r.ResourceID, r.BookingDate, slots)
		return nil, err
	}

	log.Info().
		Str("reservation_id", r.ID.String()).
		Str("resource_id", r.ResourceID.String()).
		Str("date", r.BookingDate).
		Strs("slots", r.TimeSlots).
		Str("status", string(r.Status)).
		Msg("Reservation created")

	if in.Payment != nil && s.payments != nil {
		charged, err := s.charge(ctx, r, in.Payment)
		if err != nil {
			return charged, err
		}
		r = charged
	}

	if r.Status == StatusConfirmed {
		r = s.afterConfirm(ctx, r)
	} else {
		s.notify(ctx, EventRequested, r.VendorID, r)
	}
	return r, nil
}

// charge runs the optional card flow for a freshly created reservation.
func (s *Service) charge(ctx context.Context, r *Reservation, in *PaymentInput) (*Reservation, error) {
	pay := &Payment{
		Status:   PaymentPending,
		Provider: s.payments.Name(),
		VendorID: r.VendorID,
		Amount:   r.TotalPrice,
	}

	if in.SaveCard {
		saved, err := s.payments.SaveCard(ctx, payment.SaveCardRequest{
			CardToken:  in.CardToken,
			CustomerID: r.CustomerID.String(),
			Email:      in.Email,
		})
		switch {
		case err != nil:
			log.Warn().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to save card")
		case !saved.OK:
			log.Warn().Str("reason", saved.Reason).Str("reservation_id", r.ID.String()).Msg("Card not saved")
		default:
			pay.CustomerReference = saved.Reference
		}
	}

	result, err := s.payments.Charge(ctx, payment.ChargeRequest{
		VendorAccount: s.paymentAccount(ctx, r),
		CardToken:     in.CardToken,
		CustomerRef:   pay.CustomerReference,
		Amount:        r.TotalPrice,
		Description:   fmt.Sprintf("Booking %s on %s", r.ID, r.BookingDate),
		IdempotencyID: r.ID.String(),
	})
	if err != nil {
		log.Error().Err(err).Str("reservation_id", r.ID.String()).Msg("Charge call failed")
		result = payment.Declined(err.Error())
	}

	if !result.OK {
		pay.Status = PaymentFailed
		pay.FailureReason = result.Reason
		failed, ferr := s.finish(ctx, r.ID, StatusPaymentFailed, result.Reason, func(cur *Reservation) error {
			cur.Payment = pay
			return nil
		})
		if ferr != nil {
			log.Error().Err(ferr).Str("reservation_id", r.ID.String()).Msg("Failed to record payment failure")
			failed = r
		}
		s.notify(ctx, EventPaymentFailed, r.CustomerID, failed)
		return failed, ErrPaymentFailed.With(errors.New(result.Reason))
	}

	pay.Status = PaymentCharged
	pay.ExternalPaymentID = result.Reference
	_, after, err := s.mutate(ctx, r.ID, func(cur *Reservation) error {
		cur.Payment = pay
		return nil
	})
	if err != nil {
		log.Error().Err(err).
			Str("reservation_id", r.ID.String()).
			Str("payment_reference", result.Reference).
			Msg("Charge succeeded but could not be recorded, refunding")
		return s.voidUnrecordedCharge(ctx, r, pay, err)
	}
	return after, nil
}

// voidUnrecordedCharge refunds a charge the reservation could not record and moves the
// reservation to PAYMENT_FAILED, so no money stays captured against a booking that
// does not know about it.
func (s *Service) voidUnrecordedCharge(ctx context.Context, r *Reservation, pay *Payment, cause error) (*Reservation, error) {
	ctx = context.WithoutCancel(ctx)

	result, err := s.payments.Refund(ctx, payment.RefundRequest{
		VendorAccount: s.paymentAccount(ctx, r),
		Reference:     pay.ExternalPaymentID,
		Amount:        pay.Amount,
	})
	if err != nil {
		result = payment.Declined(err.Error())
	}
	if result.OK {
		pay.Status = PaymentRefunded
		pay.Refund = RefundSucceeded
		pay.RefundReference = result.Reference
	} else {
		pay.Refund = RefundFailed
		pay.RefundFailureReason = result.Reason
		s.reportRefundFailure(ctx, r, pay, result.Reason)
	}

	failed, ferr := s.finish(ctx, r.ID, StatusPaymentFailed, "payment could not be recorded", func(cur *Reservation) error {
		cur.Payment = pay
		return nil
	})
	if ferr != nil {
		log.Error().Err(ferr).Str("reservation_id", r.ID.String()).Msg("Failed to fail reservation after unrecorded charge")
		s.report(ctx, report.Incident{
			Kind:    report.KindChargeUnrecorded,
			Subject: r.ID.String(),
			Message: ferr.Error(),
			Details: map[string]string{
				"payment_reference": pay.ExternalPaymentID,
				"refund":            string(pay.Refund),
				"vendor_id":         r.VendorID.String(),
			},
		})
		failed = r
	}
	s.notify(ctx, EventPaymentFailed, r.CustomerID, failed)
	return failed, ErrPaymentFailed.With(cause)
}

// Confirm moves a PENDING reservation to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	_, after, err := s.mutate(ctx, id, func(r *Reservation) error {
		if err := actor.canManage(r); err != nil {
			return err
		}
		return r.transition(StatusConfirmed)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("reservation_id", id.String()).Msg("Reservation confirmed")
	return s.afterConfirm(ctx, after), nil
}

// ConfirmBatch confirms every PENDING reservation carrying the external order id.
// Reservations that fail are reported in the joined error; the rest are still confirmed.
func (s *Service) ConfirmBatch(ctx context.Context, actor Actor, orderID string) ([]*Reservation, error) {
	if orderID == "" {
		return nil, ErrInvalidOrder
	}
	list, err := s.repo.List(ctx, Filter{ExternalOrderID: orderID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}

	var (
		confirmed []*Reservation
		errs      []error
	)
	for _, r := range list {
		if r.Status != StatusPending {
			continue
		}
		after, err := s.Confirm(ctx, actor, r.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("reservation %s: %w", r.ID, err))
			continue
		}
		confirmed = append(confirmed, after)
	}
	return confirmed, errors.Join(errs...)
}

// Cancel moves an active reservation to CANCELLED, frees its slots and refunds a completed charge.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Reservation, error) {
	after, err := s.finish(ctx, id, StatusCancelled, reason, actor.canAccess)
	if err != nil {
		return nil, err
	}
	log.Info().Str("reservation_id", id.String()).Str("reason", reason).Msg("Reservation cancelled")

	after = s.refund(ctx, after)
	s.removeFromCalendar(ctx, after)
	recipient := after.VendorID
	if actor.ID == after.VendorID {
		recipient = after.CustomerID
	}
	s.notify(ctx, EventCancelled, recipient, after)
	return after, nil
}

// Reject declines a reservation on behalf of the vendor.
func (s *Service) Reject(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Reservation, error) {
	after, err := s.finish(ctx, id, StatusRejected, reason, actor.canManage)
	if err != nil {
		return nil, err
	}
	log.Info().Str("reservation_id", id.String()).Str("reason", reason).Msg("Reservation rejected")

	after = s.refund(ctx, after)
	s.removeFromCalendar(ctx, after)
	s.notify(ctx, EventRejected, after.CustomerID, after)
	return after, nil
}

var errNotDue = errors.New("reservation not due")

// ExpireDue moves every PENDING reservation whose hold has lapsed to EXPIRED.
// Status is re-checked inside the conditional update, so a confirm that lands first wins.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.List(ctx, Filter{
		Statuses:      []Status{StatusPending},
		ExpiredBefore: now,
		Limit:         sweepBatch,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, r := range due {
		after, err := s.finish(ctx, r.ID, StatusExpired, "hold expired", func(cur *Reservation) error {
			if cur.Status != StatusPending || cur.ExpiresAt == nil || !cur.ExpiresAt.Before(now) {
				return errNotDue
			}
			return nil
		})
		if errors.Is(err, errNotDue) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to expire reservation")
			continue
		}
		expired++
		after = s.refund(ctx, after)
		s.removeFromCalendar(ctx, after)
		s.notify(ctx, EventExpired, after.CustomerID, after)
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Msg("Expired pending reservations")
	}
	return expired, nil
}

// RescheduleInput is the new span of a reservation.
type RescheduleInput struct {
	Date      string
	StartTime string
	Hours     int
}

// Reschedule moves an active reservation to a new span. The new slots are reserved before
// anything else changes, so an unavailable span leaves the reservation untouched.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, in RescheduleInput) (*Reservation, error) {
	if !availability.ValidDate(in.Date) {
		return nil, ErrInvalidDate
	}
	newSlots, err := timeslot.Generate(in.StartTime, in.Hours)
	if err != nil {
		return nil, ErrInvalidSpan.With(err)
	}

	current, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	toReserve, toRelease := newSlots, []string(current.TimeSlots)
	if in.Date == current.BookingDate {
		toReserve = timeslot.Subtract(newSlots, current.TimeSlots)
		toRelease = timeslot.Subtract(current.TimeSlots, newSlots)
	}

	if len(toReserve) > 0 {
		if err := s.coord.Reserve(ctx, current.ResourceID, in.Date, toReserve, availability.ForReservation(id)); err != nil {
			return nil, err
		}
	}

	_, after, err := s.mutate(ctx, id, func(r *Reservation) error {
		if err := unchanged(r, current); err != nil {
			return err
		}
		r.BookingDate = in.Date
		r.TimeSlots = pq.StringArray(newSlots)
		return recompute(r)
	})
	if err != nil {
		if len(toReserve) > 0 {
			s.releaseSlots(ctx, current.StudioID.UUID, current.ResourceID, in.Date, toReserve)
		}
		return nil, err
	}
	if len(toRelease) > 0 {
		s.releaseSlots(ctx, current.StudioID.UUID, current.ResourceID, current.BookingDate, toRelease)
	}

	log.Info().
		Str("reservation_id", id.String()).
		Str("from_date", current.BookingDate).
		Str("to_date", after.BookingDate).
		Strs("slots", after.TimeSlots).
		Msg("Reservation rescheduled")

	after = s.syncCalendar(ctx, after)
	s.notify(ctx, EventRescheduled, counterpart(actor, after), after)
	return after, nil
}

// Extend adds the hour right after the current span.
func (s *Service) Extend(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	current, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	next, err := timeslot.Next(current.TimeSlots[len(current.TimeSlots)-1])
	if err != nil {
		return nil, ErrInvalidSpan.With(err)
	}

	if err := s.coord.Reserve(ctx, current.ResourceID, current.BookingDate, []string{next}, availability.ForReservation(id)); err != nil {
		return nil, err
	}

	_, after, err := s.mutate(ctx, id, func(r *Reservation) error {
		if err := unchanged(r, current); err != nil {
			return err
		}
		r.TimeSlots = append(r.TimeSlots, next)
		return recompute(r)
	})
	if err != nil {
		s.releaseSlots(ctx, current.StudioID.UUID, current.ResourceID, current.BookingDate, []string{next})
		return nil, err
	}

	after = s.syncCalendar(ctx, after)
	s.notify(ctx, EventResized, counterpart(actor, after), after)
	return after, nil
}

// Shrink gives back the last hour of the span. Shrinking a one-hour reservation cancels it.
func (s *Service) Shrink(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	current, err := s.loadActive(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if len(current.TimeSlots) <= 1 {
		return s.Cancel(ctx, actor, id, "shrunk to zero hours")
	}
	last := current.TimeSlots[len(current.TimeSlots)-1]

	_, after, err := s.mutate(ctx, id, func(r *Reservation) error {
		if err := unchanged(r, current); err != nil {
			return err
		}
		r.TimeSlots = r.TimeSlots[:len(r.TimeSlots)-1]
		return recompute(r)
	})
	if err != nil {
		return nil, err
	}
	s.releaseSlots(ctx, current.StudioID.UUID, current.ResourceID, current.BookingDate, []string{last})

	after = s.syncCalendar(ctx, after)
	s.notify(ctx, EventResized, counterpart(actor, after), after)
	return after, nil
}

// RescheduleOptions lists the slots the reservation could move to on date.
func (s *Service) RescheduleOptions(ctx context.Context, actor Actor, id uuid.UUID, date string) ([]string, error) {
	if !availability.ValidDate(date) {
		return nil, ErrInvalidDate
	}
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	free, err := s.coord.FreeSlots(ctx, r.ResourceID, date)
	if err != nil {
		return nil, err
	}
	if r.Active() && date == r.BookingDate {
		free = timeslot.Union(free, r.TimeSlots)
	}
	return free, nil
}

// Get returns a reservation visible to actor.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.canAccess(r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns reservations scoped to the actor: customers see their own, vendors theirs.
func (s *Service) List(ctx context.Context, actor Actor, f Filter) ([]*Reservation, error) {
	switch actor.Role {
	case jwt.RoleAdmin, System.Role:
	case jwt.RoleVendor:
		f.VendorID = actor.ID
	default:
		f.CustomerID = actor.ID
	}
	return s.repo.List(ctx, f)
}

// Holds reports whether the reservation still holds slots on date.
func (s *Service) Holds(ctx context.Context, reservationID uuid.UUID, date string, slots []string) (bool, error) {
	r, err := s.repo.Get(ctx, reservationID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.Active() && r.BookingDate == date && timeslot.IsSubset(slots, r.TimeSlots), nil
}

// HeldSlots returns the slots held on date by active reservations sharing res's capacity.
func (s *Service) HeldSlots(ctx context.Context, res *availability.Resource, date string) ([]string, error) {
	f := Filter{Date: date, Statuses: activeStatuses, Limit: 1000}
	if res.HasStudio() {
		f.StudioID = res.StudioID.UUID
	} else {
		f.ResourceID = res.ID
	}
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	var held []string
	for _, r := range list {
		held = timeslot.Union(held, r.TimeSlots)
	}
	return held, nil
}

// mutate re-reads the reservation, applies fn and writes it conditionally on the version,
// retrying on conflicts. It returns the state before and after the change.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(r *Reservation) error) (*Reservation, *Reservation, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		before := current.Clone()
		if err := fn(current); err != nil {
			return nil, nil, err
		}
		err = s.repo.Update(ctx, current)
		if err == nil {
			return before, current, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, nil, err
		}
		log.Debug().Str("reservation_id", id.String()).Int("attempt", attempt+1).Msg("Reservation version conflict, retrying")
	}
	return nil, nil, ErrChangedConcurrently
}

// finish moves a reservation to a terminal status. The caller whose update takes the
// reservation out of the active set is the only one that releases its slots.
func (s *Service) finish(ctx context.Context, id uuid.UUID, to Status, reason string, check func(*Reservation) error) (*Reservation, error) {
	before, after, err := s.mutate(ctx, id, func(r *Reservation) error {
		if check != nil {
			if err := check(r); err != nil {
				return err
			}
		}
		if err := r.transition(to); err != nil {
			return err
		}
		r.StatusReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if before.Active() && !after.Active() {
		s.releaseSlots(ctx, after.StudioID.UUID, after.ResourceID, after.BookingDate, after.TimeSlots)
	}
	return after, nil
}

func (s *Service) loadActive(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !r.Active() {
		return nil, ErrNotActive
	}
	return r, nil
}

// releaseSlots frees slots, handing a failed primary write to the repair queue.
func (s *Service) releaseSlots(ctx context.Context, studioID, resourceID uuid.UUID, date string, slots []string) {
	if err := s.coord.Release(ctx, resourceID, date, slots); err != nil {
		log.Error().Err(err).
			Str("resource_id", resourceID.String()).
			Str("date", date).
			Strs("slots", slots).
			Msg("Failed to release slots, queued for repair")
		s.coord.QueueRelease(context.WithoutCancel(ctx), studioID, resourceID, date, slots)
	}
}

func (s *Service) afterConfirm(ctx context.Context, r *Reservation) *Reservation {
	if r.StudioID.Valid {
		if err := s.resources.IncrementStudioBookings(ctx, r.StudioID.UUID); err != nil {
			log.Warn().Err(err).Str("studio_id", r.StudioID.UUID.String()).Msg("Failed to increment studio bookings")
		}
	}
	s.notify(ctx, EventConfirmed, r.CustomerID, r)
	return s.syncCalendar(ctx, r)
}

// refund returns a completed charge. A failed refund is recorded and reported, never returned.
func (s *Service) refund(ctx context.Context, r *Reservation) *Reservation {
	if !r.Charged() || s.payments == nil {
		return r
	}

	result, err := s.payments.Refund(ctx, payment.RefundRequest{
		VendorAccount: s.paymentAccount(ctx, r),
		Reference:     r.Payment.ExternalPaymentID,
		Amount:        r.Payment.Amount,
	})
	if err != nil {
		result = payment.Declined(err.Error())
	}

	_, after, uerr := s.mutate(ctx, r.ID, func(cur *Reservation) error {
		if cur.Payment == nil {
			return nil
		}
		if result.OK {
			cur.Payment.Status = PaymentRefunded
			cur.Payment.Refund = RefundSucceeded
			cur.Payment.RefundReference = result.Reference
			return nil
		}
		cur.Payment.Refund = RefundFailed
		cur.Payment.RefundFailureReason = result.Reason
		return nil
	})
	if uerr != nil {
		log.Error().Err(uerr).Str("reservation_id", r.ID.String()).Msg("Failed to record refund outcome")
		after = r
	}

	if !result.OK {
		log.Error().
			Str("reservation_id", r.ID.String()).
			Str("payment_reference", r.Payment.ExternalPaymentID).
			Str("reason", result.Reason).
			Msg("Refund failed")
		s.reportRefundFailure(ctx, r, r.Payment, result.Reason)
	}
	return after
}

func (s *Service) reportRefundFailure(ctx context.Context, r *Reservation, pay *Payment, reason string) {
	s.report(ctx, report.Incident{
		Kind:    report.KindRefundFailed,
		Subject: r.ID.String(),
		Message: reason,
		Details: map[string]string{
			"payment_reference": pay.ExternalPaymentID,
			"amount":            fmt.Sprintf("%d", pay.Amount),
			"vendor_id":         r.VendorID.String(),
		},
	})
}

// paymentAccount is the vendor credential charges and refunds run against.
func (s *Service) paymentAccount(ctx context.Context, r *Reservation) string {
	if r.StudioID.Valid {
		studio, err := s.resources.GetStudio(ctx, r.StudioID.UUID)
		if err == nil && studio.PaymentAccount != "" {
			return studio.PaymentAccount
		}
	}
	return r.VendorID.String()
}

// syncCalendar pushes the reservation to the vendor's calendar and stores the event id.
func (s *Service) syncCalendar(ctx context.Context, r *Reservation) *Reservation {
	if s.calendar == nil {
		return r
	}
	eventID, err := s.calendar.PublishReservation(ctx, r)
	if err != nil {
		log.Warn().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to publish reservation to calendar")
		s.report(ctx, report.Incident{
			Kind:    report.KindCalendarSyncFailed,
			Subject: r.ID.String(),
			Message: err.Error(),
		})
		return r
	}
	if eventID == "" || eventID == r.ExternalEventID {
		return r
	}
	_, after, err := s.mutate(ctx, r.ID, func(cur *Reservation) error {
		cur.ExternalEventID = eventID
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("reservation_id", r.ID.String()).Msg("Failed to store calendar event id")
		return r
	}
	return after
}

func (s *Service) removeFromCalendar(ctx context.Context, r *Reservation) {
	if s.calendar == nil || r.ExternalEventID == "" {
		return
	}
	if err := s.calendar.RemoveReservation(ctx, r); err != nil {
		log.Warn().Err(err).
			Str("reservation_id", r.ID.String()).
			Str("event_id", r.ExternalEventID).
			Msg("Failed to remove calendar event")
	}
}

func (s *Service) notify(ctx context.Context, kind string, recipient uuid.UUID, r *Reservation) {
	if s.notifier == nil || recipient == uuid.Nil {
		return
	}
	s.notifier.Notify(ctx, kind, recipient, map[string]any{
		"reservation_id": r.ID,
		"resource_id":    r.ResourceID,
		"date":           r.BookingDate,
		"slots":          []string(r.TimeSlots),
		"status":         r.Status,
		"total_price":    r.TotalPrice,
	})
}

func (s *Service) report(ctx context.Context, inc report.Incident) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.Report(ctx, inc); err != nil {
		log.Error().Err(err).Str("kind", string(inc.Kind)).Msg("Failed to report incident")
	}
}

// unchanged guards span edits against concurrent modifications since current was read.
func unchanged(r, current *Reservation) error {
	if !r.Active() {
		return ErrNotActive
	}
	if r.BookingDate != current.BookingDate || !timeslot.Equal(r.TimeSlots, current.TimeSlots) {
		return ErrChangedConcurrently
	}
	return nil
}

func recompute(r *Reservation) error {
	r.RecomputeTotal()
	if r.TotalPrice < 0 {
		return ErrInvalidDiscount
	}
	return nil
}

func counterpart(actor Actor, r *Reservation) uuid.UUID {
	if actor.ID == r.CustomerID {
		return r.VendorID
	}
	return r.CustomerID
}
