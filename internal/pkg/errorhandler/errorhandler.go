// Package errorhandler turns domain errors into HTTP responses.
package errorhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
	"github.com/studiobook/studiobook-api/internal/pkg/logger"
	"github.com/studiobook/studiobook-api/internal/pkg/response"
)

// HandleError maps err to a status code and envelope by its apperror kind.
// Infrastructure failures are logged with the request id and answered with an opaque 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	message := "An unexpected error occurred"
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	status, code := Status(apperror.KindOf(err))
	if status >= http.StatusInternalServerError {
		log.Error().
			Str("request_id", logger.RequestID(ctx)).
			Str("error_code", code).
			Int("status_code", status).
			Err(err).
			Msg("Request error")
		response.InternalError(w)
		return
	}

	log.Debug().
		Str("request_id", logger.RequestID(ctx)).
		Str("error_code", code).
		Err(err).
		Msg("Request rejected")
	response.Error(w, status, code, message)
}

// Status returns the HTTP status and envelope code for kind.
func Status(kind apperror.Kind) (int, string) {
	switch kind {
	case apperror.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case apperror.KindSlotUnavailable:
		return http.StatusConflict, "SLOT_UNAVAILABLE"
	case apperror.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case apperror.KindInvalidInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case apperror.KindInvalidRange:
		return http.StatusUnprocessableEntity, "INVALID_RANGE"
	case apperror.KindForbidden:
		return http.StatusForbidden, "FORBIDDEN"
	case apperror.KindInactive:
		return http.StatusUnprocessableEntity, "INACTIVE"
	case apperror.KindPaymentFailed:
		return http.StatusPaymentRequired, "PAYMENT_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	log.Warn().
		Str("request_id", logger.RequestID(ctx)).
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}

// LogExternalServiceError logs errors from external service calls
func LogExternalServiceError(ctx context.Context, service, endpoint string, statusCode int, err error, body string) {
	log.Error().
		Str("request_id", logger.RequestID(ctx)).
		Str("external_service", service).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Err(err).
		Str("response_body", truncateString(body, 1000)).
		Msg("External service error")
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "...<truncated>"
	}
	return s
}
