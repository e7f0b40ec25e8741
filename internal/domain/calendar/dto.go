package calendar

import (
	"time"

	"github.com/google/uuid"
)

// ConnectRequest registers an authorized external calendar for a resource.
type ConnectRequest struct {
	ResourceID   uuid.UUID  `json:"resource_id" validate:"required"`
	CalendarID   string     `json:"calendar_id" validate:"required,max=255"`
	AccessToken  string     `json:"access_token" validate:"required"`
	RefreshToken string     `json:"refresh_token" validate:"required"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// AccountResponse is an account without its credentials.
type AccountResponse struct {
	ID             uuid.UUID  `json:"id"`
	ResourceID     uuid.UUID  `json:"resource_id"`
	CalendarID     string     `json:"calendar_id"`
	IsActive       bool       `json:"is_active"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus `json:"last_sync_status"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newAccountResponse(a *Account) AccountResponse {
	return AccountResponse{
		ID:             a.ID,
		ResourceID:     a.ResourceID,
		CalendarID:     a.CalendarID,
		IsActive:       a.IsActive,
		LastSyncAt:     a.LastSyncAt,
		LastSyncStatus: a.LastSyncStatus,
		LastSyncError:  a.LastSyncError,
		CreatedAt:      a.CreatedAt,
	}
}
