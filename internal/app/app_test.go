package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/config"
	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/reservation"
	"github.com/studiobook/studiobook-api/internal/pkg/jwt"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Env:                       "test",
		StoreDriver:               config.StoreDriverMemory,
		JWTSecret:                 "test-secret",
		JWTAccessTTL:              time.Hour,
		RateLimitPerMinute:        6000,
		RateLimitBurst:            100,
		HoldTTL:                   30 * time.Minute,
		ExpirySweepInterval:       time.Minute,
		RepairInterval:            time.Second,
		RepairMaxAttempts:         3,
		SiblingTimeout:            time.Second,
		OutboxBuffer:              64,
		CalendarTimezone:          "UTC",
		PaymentProvider:           "demo",
		StorageDriver:             "local",
		StorageLocalPath:          t.TempDir(),
		NotificationRetentionDays: 30,
	}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) (int, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	return rr.Code, env.Data
}

func TestUnknownPaymentProviderFailsStartup(t *testing.T) {
	cfg := &config.Config{
		StoreDriver:      config.StoreDriverMemory,
		PaymentProvider:  "cash",
		StorageDriver:    "local",
		StorageLocalPath: t.TempDir(),
		CalendarTimezone: "UTC",
	}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	code, data := call(t, a.Router(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), `"store":"memory"`)
}

func TestCalendarRoutesAbsentWhenSyncDisabled(t *testing.T) {
	a := newTestApp(t)
	code, _ := call(t, a.Router(), http.MethodGet, "/api/v1/calendar/accounts", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	router := a.Router()

	vendorID, customerID := uuid.New(), uuid.New()
	studio := &availability.Studio{ID: uuid.New(), VendorID: vendorID, Name: "Loft", IsActive: true}
	require.NoError(t, a.Stores.Resources.SaveStudio(ctx, studio))

	studioID := uuid.NullUUID{UUID: studio.ID, Valid: true}
	hall := &availability.Resource{ID: uuid.New(), StudioID: studioID, VendorID: vendorID, Name: "Hall", Price: 5000, IsActive: true}
	cyclorama := &availability.Resource{ID: uuid.New(), StudioID: studioID, VendorID: vendorID, Name: "Cyclorama", Price: 7000, IsActive: true}
	require.NoError(t, a.Stores.Resources.SaveResource(ctx, hall))
	require.NoError(t, a.Stores.Resources.SaveResource(ctx, cyclorama))

	customerToken, err := a.JWT.GenerateAccessToken(customerID, jwt.RoleCustomer)
	require.NoError(t, err)
	vendorToken, err := a.JWT.GenerateAccessToken(vendorID, jwt.RoleVendor)
	require.NoError(t, err)

	day := time.Now().AddDate(0, 0, 7).Format(availability.DateLayout)

	code, data := call(t, router, http.MethodPost, "/api/v1/reservations", customerToken, map[string]any{
		"resource_id": hall.ID,
		"date":        day,
		"start_time":  "10:00",
		"hours":       2,
	})
	require.Equal(t, http.StatusCreated, code, string(data))

	var created reservation.ReservationResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, reservation.StatusPending, created.Status)
	assert.Equal(t, []string{"10:00", "11:00"}, created.TimeSlots)

	free := func(id uuid.UUID) []string {
		code, data := call(t, router, http.MethodGet, "/api/v1/resources/"+id.String()+"/availability?date="+day, "", nil)
		require.Equal(t, http.StatusOK, code)
		var resp availability.AvailabilityResponse
		require.NoError(t, json.Unmarshal(data, &resp))
		return resp.Times
	}
	assert.NotContains(t, free(hall.ID), "10:00")
	assert.NotContains(t, free(cyclorama.ID), "11:00")

	code, _ = call(t, router, http.MethodPost, "/api/v1/reservations/"+created.ID.String()+"/confirm", customerToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, data = call(t, router, http.MethodPost, "/api/v1/reservations/"+created.ID.String()+"/confirm", vendorToken, nil)
	require.Equal(t, http.StatusOK, code, string(data))
	var confirmed reservation.ReservationResponse
	require.NoError(t, json.Unmarshal(data, &confirmed))
	assert.Equal(t, reservation.StatusConfirmed, confirmed.Status)

	code, _ = call(t, router, http.MethodPost, "/api/v1/reservations", customerToken, map[string]any{
		"resource_id": cyclorama.ID,
		"date":        day,
		"start_time":  "11:00",
		"hours":       1,
	})
	assert.Equal(t, http.StatusConflict, code)

	require.Eventually(t, func() bool { return a.Outbox.Pending() > 0 }, time.Second, 10*time.Millisecond)
}
