package availability

import "github.com/studiobook/studiobook-api/internal/pkg/apperror"

var (
	ErrResourceNotFound = apperror.New(apperror.KindNotFound, "resource not found")
	ErrStudioNotFound   = apperror.New(apperror.KindNotFound, "studio not found")
	ErrSlotUnavailable  = apperror.New(apperror.KindSlotUnavailable, "requested slots are not available")
	ErrInactive         = apperror.New(apperror.KindInactive, "resource or studio is inactive")
	ErrInvalidDate      = apperror.New(apperror.KindInvalidInput, "invalid date, expected YYYY-MM-DD")
	ErrInvalidSlots     = apperror.New(apperror.KindInvalidInput, "slots must be a non-empty list of hourly labels")
	ErrInvalidRange     = apperror.New(apperror.KindInvalidRange, "invalid slot range")

	// ErrVersionConflict is returned by SaveDay when another writer got there first.
	ErrVersionConflict = apperror.New(apperror.KindConflict, "availability changed concurrently")
	// ErrContention is returned when optimistic retries are exhausted.
	ErrContention = apperror.New(apperror.KindConflict, "availability is busy, try again")
)
