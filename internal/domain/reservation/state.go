package reservation

import "fmt"

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusConfirmed     Status = "CONFIRMED"
	StatusCancelled     Status = "CANCELLED"
	StatusExpired       Status = "EXPIRED"
	StatusRejected      Status = "REJECTED"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
)

// transitions is the only place that decides which status changes are legal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusExpired, StatusRejected, StatusPaymentFailed},
	StatusConfirmed: {StatusCancelled, StatusRejected, StatusPaymentFailed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// TransitionError is returned for a status change the table does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal reservation transition %s -> %s", e.From, e.To)
}

// Unwrap makes every TransitionError match ErrIllegalTransition.
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// transition moves r to status to, or returns a *TransitionError.
func (r *Reservation) transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{From: r.Status, To: to}
	}
	r.Status = to
	if to != StatusPending {
		r.ExpiresAt = nil
	}
	return nil
}
