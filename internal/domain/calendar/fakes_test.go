package calendar

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/report"
	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
	"github.com/studiobook/studiobook-api/internal/pkg/secretbox"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const day = "2024-06-01"

// fakeAPI serves event pages keyed by calendar id and sync token.
type fakeAPI struct {
	mu      sync.Mutex
	feeds   map[string]map[string]*calendarapi.EventPage
	fail    map[string]error
	tokens  []string
	created []calendarapi.Event
	updated []string
	deleted []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		feeds: make(map[string]map[string]*calendarapi.EventPage),
		fail:  make(map[string]error),
	}
}

func (f *fakeAPI) serve(calendarID, syncToken, next string, events ...calendarapi.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.feeds[calendarID] == nil {
		f.feeds[calendarID] = make(map[string]*calendarapi.EventPage)
	}
	f.feeds[calendarID][syncToken] = &calendarapi.EventPage{Events: events, NextSyncToken: next}
}

func (f *fakeAPI) ListEvents(_ context.Context, accessToken, calendarID, syncToken string) (*calendarapi.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, accessToken)
	if err := f.fail[calendarID]; err != nil {
		return nil, err
	}
	page, ok := f.feeds[calendarID][syncToken]
	if !ok {
		return nil, calendarapi.ErrSyncTokenExpired
	}
	return page, nil
}

func (f *fakeAPI) CreateEvent(_ context.Context, _, _ string, event calendarapi.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return fmt.Sprintf("evt-%d", len(f.created)), nil
}

func (f *fakeAPI) UpdateEvent(_ context.Context, _, _, eventID string, _ calendarapi.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, eventID)
	return nil
}

func (f *fakeAPI) DeleteEvent(_ context.Context, _, _, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

type fakeRefresher struct {
	token *calendarapi.Token
	err   error
	calls int
}

func (f *fakeRefresher) RefreshToken(_ context.Context, refreshToken string) (*calendarapi.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tok := *f.token
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return &tok, nil
}

type recordingReporter struct {
	mu        sync.Mutex
	incidents []report.Incident
}

func (r *recordingReporter) Report(_ context.Context, inc report.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
	return nil
}

// heldSlots pretends a live reservation holds these slots.
type heldSlots []string

func (h heldSlots) Holds(context.Context, uuid.UUID, string, []string) (bool, error) {
	return true, nil
}

func (h heldSlots) HeldSlots(context.Context, *availability.Resource, string) ([]string, error) {
	return h, nil
}

type fixture struct {
	avail     *availability.MemoryRepository
	outbox    *availability.Outbox
	coord     *availability.Coordinator
	repo      *MemoryRepository
	api       *fakeAPI
	refresher *fakeRefresher
	reporter  *recordingReporter
	creds     *CredentialSource
	rec       *Reconciler
	res       *availability.Resource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	box, err := secretbox.New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	hours, err := timeslot.Generate("08:00", 12)
	require.NoError(t, err)

	f := &fixture{
		avail:     availability.NewMemoryRepository(),
		outbox:    availability.NewOutbox(64),
		repo:      NewMemoryRepository(),
		api:       newFakeAPI(),
		refresher: &fakeRefresher{token: &calendarapi.Token{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}},
		reporter:  &recordingReporter{},
	}
	f.coord = availability.NewCoordinator(f.avail, availability.CoordinatorConfig{Outbox: f.outbox})
	f.coord.SetBlockVerifier(f.repo)
	f.creds = NewCredentialSource(f.repo, box, f.refresher)
	f.rec = NewReconciler(ReconcilerConfig{
		Repo:        f.repo,
		API:         f.api,
		Credentials: f.creds,
		Coordinator: f.coord,
		Reporter:    f.reporter,
		Location:    time.UTC,
		Concurrency: 2,
	})

	f.res = &availability.Resource{ID: uuid.New(), VendorID: uuid.New(), Name: "Room", Price: 1000, IsActive: true, OperatingHours: hours}
	require.NoError(t, f.avail.SaveResource(context.Background(), f.res))
	return f
}

func (f *fixture) account(t *testing.T, calendarID string) *Account {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	a := &Account{ID: uuid.New(), VendorID: f.res.VendorID, ResourceID: f.res.ID, CalendarID: calendarID, IsActive: true}
	require.NoError(t, f.creds.Seal(a, "access", "refresh", &expires))
	require.NoError(t, f.repo.SaveAccount(context.Background(), a))
	return a
}

func (f *fixture) sync(t *testing.T, id uuid.UUID) *SyncResult {
	t.Helper()
	res, err := f.rec.Sync(context.Background(), id)
	require.NoError(t, err)
	return res
}

func (f *fixture) free(t *testing.T) []string {
	t.Helper()
	free, err := f.coord.FreeSlots(context.Background(), f.res.ID, day)
	require.NoError(t, err)
	return free
}

func timed(id string, startHour, hours int) calendarapi.Event {
	start := time.Date(2024, 6, 1, startHour, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(hours) * time.Hour)
	return calendarapi.Event{
		ID:     id,
		Status: calendarapi.StatusConfirmed,
		Start:  calendarapi.EventTime{DateTime: &start},
		End:    calendarapi.EventTime{DateTime: &end},
	}
}

func cancelled(id string) calendarapi.Event {
	return calendarapi.Event{ID: id, Status: calendarapi.StatusCancelled}
}
