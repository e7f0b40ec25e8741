package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/report"
	"github.com/studiobook/studiobook-api/internal/pkg/calendarapi"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const defaultConcurrency = 4

// API is the external calendar boundary.
type API interface {
	ListEvents(ctx context.Context, accessToken, calendarID, syncToken string) (*calendarapi.EventPage, error)
	CreateEvent(ctx context.Context, accessToken, calendarID string, event calendarapi.Event) (string, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, event calendarapi.Event) error
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
}

// Reporter records incidents for operator follow-up.
type Reporter interface {
	Report(ctx context.Context, inc report.Incident) error
}

// ReconcilerConfig holds reconciler collaborators and tuning.
type ReconcilerConfig struct {
	Repo        Repository
	API         API
	Credentials *CredentialSource
	Coordinator *availability.Coordinator
	Reporter    Reporter
	Location    *time.Location
	Concurrency int
}

// Reconciler pulls events from connected external calendars and mirrors them as
// forced blocks on the account's resource.
type Reconciler struct {
	repo        Repository
	api         API
	creds       *CredentialSource
	coord       *availability.Coordinator
	reporter    Reporter
	loc         *time.Location
	concurrency int
	now         func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Reconciler{
		repo:        cfg.Repo,
		api:         cfg.API,
		creds:       cfg.Credentials,
		coord:       cfg.Coordinator,
		reporter:    cfg.Reporter,
		loc:         cfg.Location,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}
}

// RunAll reconciles every active account. Accounts run concurrently up to the configured
// limit and a failing account never stops the others. The error is non-nil only when
// the account list itself cannot be loaded.
func (r *Reconciler) RunAll(ctx context.Context) ([]*SyncResult, error) {
	accounts, err := r.repo.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*SyncResult, len(accounts))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for i, a := range accounts {
		wg.Add(1)
		go func(i int, a *Account) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = &SyncResult{AccountID: a.ID, Error: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()

			res, _ := r.SyncAccount(ctx, a)
			results[i] = res
		}(i, a)
	}
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	log.Info().
		Int("accounts", len(accounts)).
		Int("failed", failed).
		Msg("Calendar reconciliation finished")
	return results, nil
}

// Sync reconciles a single account by id.
func (r *Reconciler) Sync(ctx context.Context, accountID uuid.UUID) (*SyncResult, error) {
	a, err := r.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return r.SyncAccount(ctx, a)
}

// SyncAccount runs one pass for the account and records the outcome on it.
func (r *Reconciler) SyncAccount(ctx context.Context, a *Account) (*SyncResult, error) {
	start := r.now()
	result := &SyncResult{AccountID: a.ID}

	next, err := r.sync(ctx, a, result)

	state := SyncState{Status: SyncStatusSuccess, SyncToken: next, At: r.now()}
	if err != nil {
		result.Error = err.Error()
		state = SyncState{Status: SyncStatusError, Error: err.Error(), At: r.now()}
		log.Error().Err(err).
			Str("account_id", a.ID.String()).
			Str("vendor_id", a.VendorID.String()).
			Msg("Calendar sync failed")
		if errors.Is(err, ErrCredentialUnavailable) {
			r.report(ctx, a, err)
		}
	}
	if uerr := r.repo.UpdateSyncState(context.WithoutCancel(ctx), a.ID, state); uerr != nil {
		log.Error().Err(uerr).Str("account_id", a.ID.String()).Msg("Failed to record calendar sync state")
	}

	log.Info().
		Str("account_id", a.ID.String()).
		Int("events", result.Events).
		Int("blocked", result.Blocked).
		Int("released", result.Released).
		Int("invalid", result.Invalid).
		Bool("full_sync", result.FullSync).
		Dur("duration", r.now().Sub(start)).
		Msg("Calendar account synced")
	return result, err
}

func (r *Reconciler) sync(ctx context.Context, a *Account, result *SyncResult) (string, error) {
	token, err := r.creds.AccessToken(ctx, a)
	if err != nil {
		return "", err
	}

	result.FullSync = a.SyncToken == ""
	page, err := r.api.ListEvents(ctx, token, a.CalendarID, a.SyncToken)
	if errors.Is(err, calendarapi.ErrSyncTokenExpired) {
		log.Warn().Str("account_id", a.ID.String()).Msg("Calendar sync token expired, running full sync")
		result.FullSync = true
		page, err = r.api.ListEvents(ctx, token, a.CalendarID, "")
	}
	if errors.Is(err, calendarapi.ErrUnauthorized) {
		return "", ErrCredentialUnavailable.With(err)
	}
	if err != nil {
		return "", err
	}

	existing, err := r.repo.ListBlocks(ctx, a.ID)
	if err != nil {
		return "", err
	}
	blocks := make(map[string]*Block, len(existing))
	for _, b := range existing {
		blocks[b.EventID] = b
	}

	batch := r.coord.NewBatch()
	defer batch.Flush()

	seen := make(map[string]struct{}, len(page.Events))
	for i := range page.Events {
		ev := &page.Events[i]
		result.Events++
		seen[ev.ID] = struct{}{}

		if IsInternal(ev) {
			result.Skipped++
			continue
		}
		if err := r.apply(ctx, batch, a, blocks, ev, result); err != nil {
			return "", err
		}
	}

	if result.FullSync {
		for id, b := range blocks {
			if _, ok := seen[id]; ok {
				continue
			}
			if err := r.drop(ctx, batch, blocks, b); err != nil {
				return "", err
			}
			result.Released++
		}
	}
	return page.NextSyncToken, nil
}

// apply brings the block of one external event in line with the event.
func (r *Reconciler) apply(ctx context.Context, batch *availability.Batch, a *Account, blocks map[string]*Block, ev *calendarapi.Event, result *SyncResult) error {
	prev := blocks[ev.ID]

	if ev.Cancelled() {
		if prev == nil {
			result.Skipped++
			return nil
		}
		result.Released++
		return r.drop(ctx, batch, blocks, prev)
	}

	date, slots, err := MapEvent(ev, r.loc)
	if err != nil {
		result.Invalid++
		log.Warn().
			Str("account_id", a.ID.String()).
			Str("event_id", ev.ID).
			Msg("Skipping calendar event that cannot be mapped to slots")
		if prev != nil {
			return r.drop(ctx, batch, blocks, prev)
		}
		return nil
	}

	if prev != nil && prev.ResourceID == a.ResourceID && prev.Date == date && timeslot.Equal(prev.Slots, slots) {
		result.Skipped++
		return nil
	}

	if err := batch.Reserve(ctx, a.ResourceID, date, slots, availability.Force()); err != nil {
		if errors.Is(err, availability.ErrInactive) {
			result.Skipped++
			return nil
		}
		return err
	}

	b := &Block{AccountID: a.ID, EventID: ev.ID, ResourceID: a.ResourceID, Date: date, Slots: slots}
	if err := r.repo.SaveBlock(ctx, b); err != nil {
		return err
	}
	blocks[ev.ID] = b
	result.Blocked++

	if prev != nil {
		return r.release(ctx, batch, blocks, prev)
	}
	return nil
}

// drop forgets the block and frees what it held. The row goes first because the
// coordinator keeps every slot a stored block still covers.
func (r *Reconciler) drop(ctx context.Context, batch *availability.Batch, blocks map[string]*Block, b *Block) error {
	if err := r.repo.DeleteBlock(ctx, b.AccountID, b.EventID); err != nil {
		return err
	}
	delete(blocks, b.EventID)
	if err := r.release(ctx, batch, blocks, b); err != nil {
		if serr := r.repo.SaveBlock(context.WithoutCancel(ctx), b); serr != nil {
			log.Error().Err(serr).
				Str("account_id", b.AccountID.String()).
				Str("event_id", b.EventID).
				Msg("Failed to restore calendar block after release error")
		}
		blocks[b.EventID] = b
		return err
	}
	return nil
}

// release frees the slots of b that no remaining block of the account still covers.
// Slots held by live reservations or other accounts' blocks are kept by Unblock.
func (r *Reconciler) release(ctx context.Context, batch *availability.Batch, blocks map[string]*Block, b *Block) error {
	var covered []string
	for _, other := range blocks {
		if other.ResourceID == b.ResourceID && other.Date == b.Date {
			covered = timeslot.Union(covered, other.Slots)
		}
	}
	free := timeslot.Subtract(b.Slots, covered)
	if len(free) == 0 {
		return nil
	}

	_, err := batch.Unblock(ctx, b.ResourceID, b.Date, free)
	if errors.Is(err, availability.ErrResourceNotFound) {
		return nil
	}
	return err
}

func (r *Reconciler) report(ctx context.Context, a *Account, err error) {
	if r.reporter == nil {
		return
	}
	rerr := r.reporter.Report(ctx, report.Incident{
		Kind:    report.KindCalendarSyncFailed,
		Subject: a.ID.String(),
		Message: err.Error(),
		Details: map[string]string{
			"vendor_id":   a.VendorID.String(),
			"resource_id": a.ResourceID.String(),
		},
	})
	if rerr != nil {
		log.Error().Err(rerr).Str("account_id", a.ID.String()).Msg("Failed to report calendar incident")
	}
}

// Release frees every block the account holds. Used when a calendar is disconnected.
func (r *Reconciler) Release(ctx context.Context, a *Account) (int, error) {
	existing, err := r.repo.ListBlocks(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	blocks := make(map[string]*Block, len(existing))
	for _, b := range existing {
		blocks[b.EventID] = b
	}

	batch := r.coord.NewBatch()
	defer batch.Flush()

	released := 0
	for _, b := range existing {
		if err := r.drop(ctx, batch, blocks, b); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}
