package calendar

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SyncStatus is the outcome of the last reconciliation of an account.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// Account is a vendor's connected external calendar. Events on it block ResourceID.
// Tokens are stored sealed.
type Account struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	VendorID       uuid.UUID  `db:"vendor_id" json:"vendor_id"`
	ResourceID     uuid.UUID  `db:"resource_id" json:"resource_id"`
	CalendarID     string     `db:"calendar_id" json:"calendar_id"`
	AccessToken    string     `db:"access_token" json:"-"`
	RefreshToken   string     `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time `db:"token_expires_at" json:"-"`
	SyncToken      string     `db:"sync_token" json:"-"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	LastSyncAt     *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus `db:"last_sync_status" json:"last_sync_status"`
	LastSyncError  string     `db:"last_sync_error" json:"last_sync_error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Block is the span an external event currently blocks, tracked so that a moved
// or cancelled event releases exactly what it took.
type Block struct {
	AccountID  uuid.UUID      `db:"account_id" json:"account_id"`
	EventID    string         `db:"event_id" json:"event_id"`
	ResourceID uuid.UUID      `db:"resource_id" json:"resource_id"`
	Date       string         `db:"day" json:"date"`
	Slots      pq.StringArray `db:"slots" json:"slots"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// SyncResult summarizes one account pass.
type SyncResult struct {
	AccountID uuid.UUID `json:"account_id"`
	Events    int       `json:"events"`
	Blocked   int       `json:"blocked"`
	Released  int       `json:"released"`
	Skipped   int       `json:"skipped"`
	Invalid   int       `json:"invalid"`
	FullSync  bool      `json:"full_sync"`
	Error     string    `json:"error,omitempty"`
}
