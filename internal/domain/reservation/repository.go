package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
)

const (
	queryTimeout = 3 * time.Second
	defaultLimit = 200
)

// Filter selects reservations. Zero fields are ignored.
type Filter struct {
	ResourceID      uuid.UUID
	StudioID        uuid.UUID
	CustomerID      uuid.UUID
	VendorID        uuid.UUID
	Date            string
	ExternalOrderID string
	Statuses        []Status
	// ExpiredBefore matches holds whose expiration is before the given instant.
	ExpiredBefore time.Time
	Limit         uint64
}

// Repository is the store boundary for reservations.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)
	Create(ctx context.Context, r *Reservation) error
	// Update writes r if the stored version still equals r.Version and bumps it.
	// Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, r *Reservation) error
	List(ctx context.Context, f Filter) ([]*Reservation, error)
}

var activeStatuses = []Status{StatusPending, StatusConfirmed}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository implements Repository on sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates the Postgres-backed repository.
func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var res Reservation
	err := r.db.GetContext(ctx, &res, `SELECT * FROM reservations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperror.Store("get reservation", err)
	}
	return &res, nil
}

func (r *PostgresRepository) Create(ctx context.Context, res *Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	res.CreatedAt = now
	res.UpdatedAt = now
	res.Version = 1

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO reservations (
			id, resource_id, studio_id, vendor_id, customer_id, booking_date, time_slots,
			status, status_reason, item_price, discount, total_price, payment,
			external_order_id, external_event_id, expires_at, version, created_at, updated_at
		) VALUES (
			:id, :resource_id, :studio_id, :vendor_id, :customer_id, :booking_date, :time_slots,
			:status, :status_reason, :item_price, :discount, :total_price, :payment,
			:external_order_id, :external_event_id, :expires_at, :version, :created_at, :updated_at
		)
	`, res)
	if err != nil {
		return apperror.Store("create reservation", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, res *Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	next := res.Clone()
	next.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, `
		UPDATE reservations SET
			booking_date = :booking_date,
			time_slots = :time_slots,
			status = :status,
			status_reason = :status_reason,
			discount = :discount,
			total_price = :total_price,
			payment = :payment,
			external_event_id = :external_event_id,
			expires_at = :expires_at,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`, next)
	if err != nil {
		return apperror.Store("update reservation", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperror.Store("rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("reservation %s: %w", res.ID, ErrVersionConflict)
	}

	res.Version++
	res.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := psql.Select("*").From("reservations")
	if f.ResourceID != uuid.Nil {
		q = q.Where(sq.Eq{"resource_id": f.ResourceID})
	}
	if f.StudioID != uuid.Nil {
		q = q.Where(sq.Eq{"studio_id": f.StudioID})
	}
	if f.CustomerID != uuid.Nil {
		q = q.Where(sq.Eq{"customer_id": f.CustomerID})
	}
	if f.VendorID != uuid.Nil {
		q = q.Where(sq.Eq{"vendor_id": f.VendorID})
	}
	if f.Date != "" {
		q = q.Where(sq.Eq{"booking_date": f.Date})
	}
	if f.ExternalOrderID != "" {
		q = q.Where(sq.Eq{"external_order_id": f.ExternalOrderID})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if !f.ExpiredBefore.IsZero() {
		q = q.Where(sq.Lt{"expires_at": f.ExpiredBefore}).OrderBy("expires_at")
	} else {
		q = q.OrderBy("created_at")
	}
	q = q.Limit(limitOf(f))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, apperror.Store("build reservation query", err)
	}

	var out []*Reservation
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperror.Store("list reservations", err)
	}
	return out, nil
}

func limitOf(f Filter) uint64 {
	if f.Limit == 0 {
		return defaultLimit
	}
	return f.Limit
}
