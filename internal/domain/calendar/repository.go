package calendar

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const queryTimeout = 3 * time.Second

// SyncState is what a reconciliation pass writes back to the account.
type SyncState struct {
	SyncToken string
	Status    SyncStatus
	Error     string
	At        time.Time
}

// Repository stores connected accounts and the blocks their events hold.
type Repository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	ListActiveAccounts(ctx context.Context) ([]*Account, error)
	ListAccountsByVendor(ctx context.Context, vendorID uuid.UUID) ([]*Account, error)
	// FindByResource returns the active account that blocks resourceID, or ErrAccountNotFound.
	FindByResource(ctx context.Context, resourceID uuid.UUID) (*Account, error)
	SaveAccount(ctx context.Context, a *Account) error
	UpdateTokens(ctx context.Context, id uuid.UUID, access, refresh string, expiresAt *time.Time) error
	UpdateSyncState(ctx context.Context, id uuid.UUID, state SyncState) error

	ListBlocks(ctx context.Context, accountID uuid.UUID) ([]*Block, error)
	SaveBlock(ctx context.Context, b *Block) error
	DeleteBlock(ctx context.Context, accountID uuid.UUID, eventID string) error
	// BlockedSlots returns the union of slots that tracked blocks hold on date across resourceIDs.
	BlockedSlots(ctx context.Context, resourceIDs []uuid.UUID, date string) ([]string, error)
}

// PostgresRepository implements Repository on sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates the Postgres-backed repository.
func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Account
	err := r.db.GetContext(ctx, &a, `SELECT * FROM calendar_accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, apperror.Store("get calendar account", err)
	}
	return &a, nil
}

func (r *PostgresRepository) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Account
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM calendar_accounts WHERE is_active = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, apperror.Store("list calendar accounts", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListAccountsByVendor(ctx context.Context, vendorID uuid.UUID) ([]*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Account
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM calendar_accounts WHERE vendor_id = $1 ORDER BY created_at`, vendorID)
	if err != nil {
		return nil, apperror.Store("list vendor calendar accounts", err)
	}
	return out, nil
}

func (r *PostgresRepository) FindByResource(ctx context.Context, resourceID uuid.UUID) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Account
	err := r.db.GetContext(ctx, &a, `
		SELECT * FROM calendar_accounts
		WHERE resource_id = $1 AND is_active = TRUE
		ORDER BY created_at LIMIT 1
	`, resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, apperror.Store("find calendar account", err)
	}
	return &a, nil
}

func (r *PostgresRepository) SaveAccount(ctx context.Context, a *Account) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.LastSyncStatus == "" {
		a.LastSyncStatus = SyncStatusPending
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO calendar_accounts (
			id, vendor_id, resource_id, calendar_id, access_token, refresh_token, token_expires_at,
			sync_token, is_active, last_sync_at, last_sync_status, last_sync_error, created_at, updated_at
		) VALUES (
			:id, :vendor_id, :resource_id, :calendar_id, :access_token, :refresh_token, :token_expires_at,
			:sync_token, :is_active, :last_sync_at, :last_sync_status, :last_sync_error, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			resource_id = EXCLUDED.resource_id,
			calendar_id = EXCLUDED.calendar_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			sync_token = EXCLUDED.sync_token,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`, a)
	if err != nil {
		return apperror.Store("save calendar account", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateTokens(ctx context.Context, id uuid.UUID, access, refresh string, expiresAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE calendar_accounts
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, access, refresh, expiresAt)
	if err != nil {
		return apperror.Store("update calendar tokens", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateSyncState(ctx context.Context, id uuid.UUID, state SyncState) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE calendar_accounts
		SET sync_token = COALESCE(NULLIF($2, ''), sync_token),
			last_sync_status = $3, last_sync_error = $4, last_sync_at = $5, updated_at = NOW()
		WHERE id = $1
	`, id, state.SyncToken, state.Status, state.Error, state.At)
	if err != nil {
		return apperror.Store("update calendar sync state", err)
	}
	return nil
}

func (r *PostgresRepository) ListBlocks(ctx context.Context, accountID uuid.UUID) ([]*Block, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Block
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM calendar_blocks WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, apperror.Store("list calendar blocks", err)
	}
	return out, nil
}

func (r *PostgresRepository) SaveBlock(ctx context.Context, b *Block) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	b.UpdatedAt = time.Now()
	if b.Slots == nil {
		b.Slots = []string{}
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO calendar_blocks (account_id, event_id, resource_id, day, slots, updated_at)
		VALUES (:account_id, :event_id, :resource_id, :day, :slots, :updated_at)
		ON CONFLICT (account_id, event_id) DO UPDATE SET
			resource_id = EXCLUDED.resource_id,
			day = EXCLUDED.day,
			slots = EXCLUDED.slots,
			updated_at = EXCLUDED.updated_at
	`, b)
	if err != nil {
		return apperror.Store("save calendar block", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteBlock(ctx context.Context, accountID uuid.UUID, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `DELETE FROM calendar_blocks WHERE account_id = $1 AND event_id = $2`, accountID, eventID)
	if err != nil {
		return apperror.Store("delete calendar block", err)
	}
	return nil
}

func (r *PostgresRepository) BlockedSlots(ctx context.Context, resourceIDs []uuid.UUID, date string) ([]string, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := make([]string, len(resourceIDs))
	for i, id := range resourceIDs {
		ids[i] = id.String()
	}
	var rows []pq.StringArray
	err := r.db.SelectContext(ctx, &rows,
		`SELECT slots FROM calendar_blocks WHERE day = $1 AND resource_id = ANY($2::uuid[])`,
		date, pq.Array(ids))
	if err != nil {
		return nil, apperror.Store("list blocked slots", err)
	}
	var out []string
	for _, slots := range rows {
		out = timeslot.Union(out, slots)
	}
	return out, nil
}
