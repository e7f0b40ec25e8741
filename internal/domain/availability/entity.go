package availability

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DateLayout is the external format of booking dates.
const DateLayout = "2006-01-02"

// Resource is a single bookable unit ("item") with its own availability calendar.
type Resource struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	StudioID       uuid.NullUUID  `db:"studio_id" json:"studio_id"`
	VendorID       uuid.UUID      `db:"vendor_id" json:"vendor_id"`
	Name           string         `db:"name" json:"name"`
	OperatingHours pq.StringArray `db:"operating_hours" json:"operating_hours"`
	Price          int64          `db:"price" json:"price"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	InstantBook    bool           `db:"instant_book" json:"instant_book"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// HasStudio reports whether the resource belongs to a studio.
func (r *Resource) HasStudio() bool {
	return r.StudioID.Valid && r.StudioID.UUID != uuid.Nil
}

// Studio groups resources sharing physical capacity.
type Studio struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	VendorID       uuid.UUID      `db:"vendor_id" json:"vendor_id"`
	Name           string         `db:"name" json:"name"`
	OperatingHours pq.StringArray `db:"operating_hours" json:"operating_hours"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	BookingCount   int64          `db:"booking_count" json:"booking_count"`
	PaymentAccount string         `db:"payment_account" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// DateAvailability holds the free slot labels of one resource on one date.
// Version 0 means the day has not been materialized in the store yet.
type DateAvailability struct {
	ResourceID uuid.UUID      `db:"resource_id" json:"resource_id"`
	Date       string         `db:"day" json:"date"`
	Times      pq.StringArray `db:"times" json:"times"`
	Version    int64          `db:"version" json:"-"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// Materialized reports whether the day exists in the store.
func (d *DateAvailability) Materialized() bool {
	return d.Version > 0
}

// ChangeKind describes what happened to a resource's availability.
type ChangeKind string

const (
	ChangeReserved ChangeKind = "availability.reserved"
	ChangeReleased ChangeKind = "availability.released"
	ChangeBulk     ChangeKind = "availability.bulk_changed"
)

// Change is an "availability changed" event keyed by resource id.
type Change struct {
	Kind       ChangeKind  `json:"kind"`
	ResourceID uuid.UUID   `json:"resource_id"`
	StudioID   uuid.UUID   `json:"studio_id,omitempty"`
	Date       string      `json:"date,omitempty"`
	Slots      []string    `json:"slots,omitempty"`
	Resources  []uuid.UUID `json:"resources,omitempty"`
	At         time.Time   `json:"at"`
}
