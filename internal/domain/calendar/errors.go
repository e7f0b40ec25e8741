package calendar

import "github.com/studiobook/studiobook-api/internal/pkg/apperror"

var (
	ErrAccountNotFound       = apperror.New(apperror.KindNotFound, "calendar account not found")
	ErrCredentialUnavailable = apperror.New(apperror.KindForbidden, "calendar credential unavailable, reconnect the calendar")
	ErrInvalidEvent          = apperror.New(apperror.KindInvalidRange, "event cannot be mapped to slots")
	ErrForbidden             = apperror.New(apperror.KindForbidden, "calendar account belongs to another vendor")
)
