package reservation

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PaymentStatus is the state of the charge attached to a reservation.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentCharged  PaymentStatus = "charged"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// RefundStatus records the outcome of a refund attempt.
type RefundStatus string

const (
	RefundSucceeded RefundStatus = "refunded"
	RefundFailed    RefundStatus = "failed"
)

// Payment is the payment sub-record of a reservation.
type Payment struct {
	Status              PaymentStatus `json:"status"`
	Provider            string        `json:"provider,omitempty"`
	ExternalPaymentID   string        `json:"external_payment_id,omitempty"`
	CustomerReference   string        `json:"customer_reference,omitempty"`
	VendorID            uuid.UUID     `json:"vendor_id"`
	Amount              int64         `json:"amount"`
	FailureReason       string        `json:"failure_reason,omitempty"`
	Refund              RefundStatus  `json:"refund,omitempty"`
	RefundReference     string        `json:"refund_reference,omitempty"`
	RefundFailureReason string        `json:"refund_failure_reason,omitempty"`
}

// Value implements driver.Valuer for JSONB storage.
func (p Payment) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB storage.
func (p *Payment) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		return nil
	default:
		return errors.New("payment: unsupported scan type")
	}
}

// Reservation is a customer's hold on a contiguous span of slots of one resource on one date.
type Reservation struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	ResourceID      uuid.UUID      `db:"resource_id" json:"resource_id"`
	StudioID        uuid.NullUUID  `db:"studio_id" json:"studio_id"`
	VendorID        uuid.UUID      `db:"vendor_id" json:"vendor_id"`
	CustomerID      uuid.UUID      `db:"customer_id" json:"customer_id"`
	BookingDate     string         `db:"booking_date" json:"booking_date"`
	TimeSlots       pq.StringArray `db:"time_slots" json:"time_slots"`
	Status          Status         `db:"status" json:"status"`
	StatusReason    string         `db:"status_reason" json:"status_reason,omitempty"`
	ItemPrice       int64          `db:"item_price" json:"item_price"`
	Discount        int64          `db:"discount" json:"discount"`
	TotalPrice      int64          `db:"total_price" json:"total_price"`
	Payment         *Payment       `db:"payment" json:"payment,omitempty"`
	ExternalOrderID string         `db:"external_order_id" json:"external_order_id,omitempty"`
	ExternalEventID string         `db:"external_event_id" json:"external_event_id,omitempty"`
	ExpiresAt       *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	Version         int64          `db:"version" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Active reports whether the reservation currently holds its slots.
func (r *Reservation) Active() bool {
	return r.Status == StatusPending || r.Status == StatusConfirmed
}

// Gross is the undiscounted price of the current span.
func (r *Reservation) Gross() int64 {
	return r.ItemPrice * int64(len(r.TimeSlots))
}

// RecomputeTotal derives TotalPrice from the item price, slot count and discount.
// Every change to TimeSlots must be followed by a call before persisting.
func (r *Reservation) RecomputeTotal() {
	r.TotalPrice = r.Gross() - r.Discount
}

// Charged reports whether money was taken and not yet returned.
func (r *Reservation) Charged() bool {
	return r.Payment != nil && r.Payment.Status == PaymentCharged
}

// Clone returns a deep copy.
func (r *Reservation) Clone() *Reservation {
	c := *r
	c.TimeSlots = append(pq.StringArray(nil), r.TimeSlots...)
	if r.Payment != nil {
		p := *r.Payment
		c.Payment = &p
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
