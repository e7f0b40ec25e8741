package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
)

// Repository defines notification data access
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error)
	CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error)
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	// DeleteOlderThan removes read notifications older than readAge and every
	// notification older than anyAge.
	DeleteOlderThan(ctx context.Context, readAge, anyAge time.Duration) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates notification repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, kind, payload, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Kind,
		[]byte(n.Payload),
		n.IsRead,
		n.CreatedAt,
	)
	if err != nil {
		return apperror.Store("create notification", err)
	}
	return nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT * FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	var notifications []*Notification
	if err := r.db.SelectContext(ctx, &notifications, query, userID, limit, offset); err != nil {
		return nil, apperror.Store("list notifications", err)
	}
	return notifications, nil
}

func (r *repository) CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, apperror.Store("count notifications", err)
	}
	return count, nil
}

func (r *repository) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	query := `UPDATE notifications SET is_read = true, read_at = NOW() WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return apperror.Store("mark notification read", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE notifications SET is_read = true, read_at = NOW() WHERE user_id = $1 AND NOT is_read`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return apperror.Store("mark notifications read", err)
	}
	return nil
}

func (r *repository) DeleteOlderThan(ctx context.Context, readAge, anyAge time.Duration) (int64, error) {
	now := time.Now()
	query := `DELETE FROM notifications WHERE (is_read AND created_at < $1) OR created_at < $2`
	result, err := r.db.ExecContext(ctx, query, now.Add(-readAge), now.Add(-anyAge))
	if err != nil {
		return 0, apperror.Store("delete old notifications", err)
	}
	return result.RowsAffected()
}
