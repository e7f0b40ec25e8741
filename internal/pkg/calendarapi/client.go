// Package calendarapi is a client for a Google-Calendar-style REST API:
// incremental event listing with sync tokens, event writes and OAuth token refresh.
package calendarapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/studiobook/studiobook-api/internal/pkg/httpclient"
)

const serviceName = "calendar"

var (
	// ErrUnauthorized means the access token was rejected.
	ErrUnauthorized = errors.New("calendar: unauthorized")
	// ErrSyncTokenExpired means the caller must drop its sync token and list from scratch.
	ErrSyncTokenExpired = errors.New("calendar: sync token expired")
)

// Event statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// EventTime is either a timestamp or, for all-day events, a date.
type EventTime struct {
	DateTime *time.Time `json:"dateTime,omitempty"`
	Date     string     `json:"date,omitempty"`
	TimeZone string     `json:"timeZone,omitempty"`
}

// ExtendedProperties are key/value pairs attached to an event.
type ExtendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

// Event is a calendar event as returned by the API.
type Event struct {
	ID                 string              `json:"id,omitempty"`
	Status             string              `json:"status,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Description        string              `json:"description,omitempty"`
	Start              EventTime           `json:"start"`
	End                EventTime           `json:"end"`
	ExtendedProperties *ExtendedProperties `json:"extendedProperties,omitempty"`
}

// Cancelled reports whether the event was deleted or cancelled.
func (e *Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// Private returns a private extended property.
func (e *Event) Private(key string) string {
	if e.ExtendedProperties == nil {
		return ""
	}
	return e.ExtendedProperties.Private[key]
}

// EventPage is the result of ListEvents.
type EventPage struct {
	Events        []Event
	NextSyncToken string
}

// Token is an OAuth access token.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Config configures Client.
type Config struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// Client talks to the calendar API. Every call waits on a shared rate limiter.
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a calendar API client.
func NewClient(cfg Config) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpclient.New(cfg.Timeout),
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type listResponse struct {
	Items         []Event `json:"items"`
	NextPageToken string  `json:"nextPageToken"`
	NextSyncToken string  `json:"nextSyncToken"`
}

// ListEvents returns events changed since syncToken, or all events when it is empty.
// Pages are followed until the API hands out the next sync token.
func (c *Client) ListEvents(ctx context.Context, accessToken, calendarID, syncToken string) (*EventPage, error) {
	page := &EventPage{}
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("singleEvents", "true")
		q.Set("showDeleted", "true")
		if syncToken != "" {
			q.Set("syncToken", syncToken)
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var resp listResponse
		path := "/calendars/" + url.PathEscape(calendarID) + "/events?" + q.Encode()
		if err := c.do(ctx, accessToken, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}

		page.Events = append(page.Events, resp.Items...)
		if resp.NextPageToken == "" {
			page.NextSyncToken = resp.NextSyncToken
			return page, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateEvent creates an event and returns its id.
func (c *Client) CreateEvent(ctx context.Context, accessToken, calendarID string, event Event) (string, error) {
	var created Event
	path := "/calendars/" + url.PathEscape(calendarID) + "/events"
	if err := c.do(ctx, accessToken, http.MethodPost, path, event, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateEvent replaces an event.
func (c *Client) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, event Event) error {
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	return c.do(ctx, accessToken, http.MethodPut, path, event, nil)
}

// DeleteEvent deletes an event. Deleting an event that is already gone succeeds.
func (c *Client) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	path := "/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID)
	err := c.do(ctx, accessToken, http.MethodDelete, path, nil, nil)
	var se *httpclient.StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone) {
		return nil
	}
	return err
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("calendar: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httpclient.Classify(ctx, serviceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, httpclient.ReadStatusError(serviceName, resp))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ReadStatusError(serviceName, resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("calendar: decode token: %w", err)
	}
	tok := &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (c *Client) do(ctx context.Context, accessToken, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("calendar: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("calendar: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return httpclient.Classify(ctx, serviceName, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Calendar API call")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, httpclient.ReadStatusError(serviceName, resp))
	case resp.StatusCode == http.StatusGone && method == http.MethodGet:
		return ErrSyncTokenExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return httpclient.ReadStatusError(serviceName, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("calendar: decode response: %w", err)
	}
	return nil
}
