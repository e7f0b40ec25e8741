package calendarapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/pkg/httpclient"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		BaseURL:        srv.URL,
		TokenURL:       srv.URL + "/token",
		ClientID:       "id",
		ClientSecret:   "secret",
		Timeout:        time.Second,
		RequestsPerSec: 1000,
		Burst:          100,
	})
}

func TestListEventsFollowsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "sync-1", r.URL.Query().Get("syncToken"))

		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items":         []map[string]any{{"id": "a", "status": "confirmed"}},
				"nextPageToken": "p2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":         []map[string]any{{"id": "b", "status": "cancelled"}},
			"nextSyncToken": "sync-2",
		})
	}))
	defer srv.Close()

	page, err := newTestClient(srv).ListEvents(context.Background(), "access", "primary", "sync-1")
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "a", page.Events[0].ID)
	assert.True(t, page.Events[1].Cancelled())
	assert.Equal(t, "sync-2", page.NextSyncToken)
}

func TestListEventsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"expired sync token", http.StatusGone, ErrSyncTokenExpired},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).ListEvents(context.Background(), "access", "primary", "old")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestServerErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreateEvent(context.Background(), "access", "primary", Event{Summary: "x"})
	var se *httpclient.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestCreateUpdateDeleteEvent(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		switch r.Method {
		case http.MethodPost:
			var ev Event
			require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
			assert.Equal(t, "internal", ev.Private("origin"))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "evt-1"})
		case http.MethodPut:
			assert.Equal(t, "/calendars/primary/events/evt-1", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	ev := Event{
		Summary:            "Booking",
		Start:              EventTime{DateTime: &start},
		End:                EventTime{DateTime: &end},
		ExtendedProperties: &ExtendedProperties{Private: map[string]string{"origin": "internal"}},
	}

	id, err := c.CreateEvent(ctx, "access", "primary", ev)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
	require.NoError(t, c.UpdateEvent(ctx, "access", "primary", id, ev))
	require.NoError(t, c.DeleteEvent(ctx, "access", "primary", id))
	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)
}

func TestRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("refresh_token") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "new", "expires_in": 3600})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	tok, err := c.RefreshToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)
	assert.Equal(t, "good", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	_, err = c.RefreshToken(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
