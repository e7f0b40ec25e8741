package availability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
)

const queryTimeout = 3 * time.Second

// Repository is the store boundary for resources, studios and per-date availability.
type Repository interface {
	GetResource(ctx context.Context, id uuid.UUID) (*Resource, error)
	// ListResourcesByStudio returns the studio's members, skipping excludeID when it is not uuid.Nil.
	ListResourcesByStudio(ctx context.Context, studioID, excludeID uuid.UUID) ([]*Resource, error)
	SaveResource(ctx context.Context, r *Resource) error

	GetStudio(ctx context.Context, id uuid.UUID) (*Studio, error)
	SaveStudio(ctx context.Context, s *Studio) error
	IncrementStudioBookings(ctx context.Context, id uuid.UUID) error

	// GetDay returns nil, nil when the day was never materialized.
	GetDay(ctx context.Context, resourceID uuid.UUID, date string) (*DateAvailability, error)
	// SaveDay writes day if the stored version still equals day.Version and bumps it.
	// Returns ErrVersionConflict otherwise.
	SaveDay(ctx context.Context, day *DateAvailability) error
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository implements Repository on sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates the Postgres-backed repository.
func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var res Resource
	err := r.db.GetContext(ctx, &res, `SELECT * FROM resources WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, apperror.Store("get resource", err)
	}
	return &res, nil
}

func (r *PostgresRepository) ListResourcesByStudio(ctx context.Context, studioID, excludeID uuid.UUID) ([]*Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := psql.Select("*").From("resources").Where(sq.Eq{"studio_id": studioID}).OrderBy("created_at")
	if excludeID != uuid.Nil {
		q = q.Where(sq.NotEq{"id": excludeID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, apperror.Store("build sibling query", err)
	}

	var out []*Resource
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperror.Store("list studio resources", err)
	}
	return out, nil
}

func (r *PostgresRepository) SaveResource(ctx context.Context, res *Resource) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO resources (id, studio_id, vendor_id, name, operating_hours, price, is_active, instant_book, created_at, updated_at)
		VALUES (:id, :studio_id, :vendor_id, :name, :operating_hours, :price, :is_active, :instant_book, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			studio_id = EXCLUDED.studio_id,
			name = EXCLUDED.name,
			operating_hours = EXCLUDED.operating_hours,
			price = EXCLUDED.price,
			is_active = EXCLUDED.is_active,
			instant_book = EXCLUDED.instant_book,
			updated_at = EXCLUDED.updated_at
	`, res)
	if err != nil {
		return apperror.Store("save resource", err)
	}
	return nil
}

func (r *PostgresRepository) GetStudio(ctx context.Context, id uuid.UUID) (*Studio, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var s Studio
	err := r.db.GetContext(ctx, &s, `SELECT * FROM studios WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudioNotFound
		}
		return nil, apperror.Store("get studio", err)
	}
	return &s, nil
}

func (r *PostgresRepository) SaveStudio(ctx context.Context, s *Studio) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO studios (id, vendor_id, name, operating_hours, is_active, booking_count, payment_account, created_at, updated_at)
		VALUES (:id, :vendor_id, :name, :operating_hours, :is_active, :booking_count, :payment_account, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			operating_hours = EXCLUDED.operating_hours,
			is_active = EXCLUDED.is_active,
			payment_account = EXCLUDED.payment_account,
			updated_at = EXCLUDED.updated_at
	`, s)
	if err != nil {
		return apperror.Store("save studio", err)
	}
	return nil
}

func (r *PostgresRepository) IncrementStudioBookings(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE studios SET booking_count = booking_count + 1, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return apperror.Store("increment studio bookings", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperror.Store("rows affected", err)
	}
	if rows == 0 {
		return ErrStudioNotFound
	}
	return nil
}

func (r *PostgresRepository) GetDay(ctx context.Context, resourceID uuid.UUID, date string) (*DateAvailability, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var day DateAvailability
	err := r.db.GetContext(ctx, &day, `
		SELECT resource_id, day, times, version, updated_at
		FROM resource_availability
		WHERE resource_id = $1 AND day = $2
	`, resourceID, date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.Store("get availability day", err)
	}
	return &day, nil
}

func (r *PostgresRepository) SaveDay(ctx context.Context, day *DateAvailability) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	times := []string(day.Times)
	if times == nil {
		times = []string{}
	}
	var result sql.Result
	var err error

	if day.Version == 0 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO resource_availability (resource_id, day, times, version, updated_at)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (resource_id, day) DO NOTHING
		`, day.ResourceID, day.Date, pq.Array(times), now)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE resource_availability
			SET times = $3, version = version + 1, updated_at = $5
			WHERE resource_id = $1 AND day = $2 AND version = $4
		`, day.ResourceID, day.Date, pq.Array(times), day.Version, now)
	}
	if err != nil {
		return apperror.Store("save availability day", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperror.Store("rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("resource %s on %s: %w", day.ResourceID, day.Date, ErrVersionConflict)
	}

	day.Version++
	day.UpdatedAt = now
	return nil
}
