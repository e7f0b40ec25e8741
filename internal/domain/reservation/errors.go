package reservation

import "github.com/studiobook/studiobook-api/internal/pkg/apperror"

var (
	ErrNotFound            = apperror.New(apperror.KindNotFound, "reservation not found")
	ErrIllegalTransition   = apperror.New(apperror.KindConflict, "reservation cannot move to that status")
	ErrNotActive           = apperror.New(apperror.KindConflict, "reservation no longer holds its slots")
	ErrChangedConcurrently = apperror.New(apperror.KindConflict, "reservation changed concurrently, reload and retry")
	ErrForbidden           = apperror.New(apperror.KindForbidden, "not allowed to act on this reservation")
	ErrPaymentFailed       = apperror.New(apperror.KindPaymentFailed, "payment failed")
	ErrInvalidDiscount     = apperror.New(apperror.KindInvalidInput, "discount must be between zero and the reservation price")
	ErrInvalidSpan         = apperror.New(apperror.KindInvalidRange, "invalid time span")
	ErrInvalidDate         = apperror.New(apperror.KindInvalidInput, "invalid date, expected YYYY-MM-DD")
	ErrInvalidOrder        = apperror.New(apperror.KindInvalidInput, "external order id is required")

	// ErrVersionConflict is returned by Update when the stored version moved on.
	ErrVersionConflict = apperror.New(apperror.KindConflict, "reservation version conflict")
)
