package errorhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
	"github.com/studiobook/studiobook-api/internal/pkg/response"
)

func TestHandleErrorMapsKinds(t *testing.T) {
	taken := apperror.New(apperror.KindSlotUnavailable, "requested slots are not available")

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"slot conflict", fmt.Errorf("reserve: %w", taken), http.StatusConflict, "SLOT_UNAVAILABLE", "requested slots are not available"},
		{"not found", apperror.New(apperror.KindNotFound, "reservation not found"), http.StatusNotFound, "NOT_FOUND", "reservation not found"},
		{"payment", apperror.New(apperror.KindPaymentFailed, "payment declined"), http.StatusPaymentRequired, "PAYMENT_FAILED", "payment declined"},
		{"store is opaque", apperror.Store("save reservation", errors.New("connection reset")), http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"},
		{"plain error is opaque", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)

			var body response.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotNil(t, body.Error)
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}
