package reservation

import (
	"time"

	"github.com/google/uuid"
)

// CreateRequest represents a booking request from a customer.
type CreateRequest struct {
	ResourceID      uuid.UUID       `json:"resource_id" validate:"required"`
	Date            string          `json:"date" validate:"required,date"`
	StartTime       string          `json:"start_time" validate:"required,slot"`
	Hours           int             `json:"hours" validate:"required,gte=1,lte=24"`
	Discount        int64           `json:"discount" validate:"gte=0"`
	ExternalOrderID string          `json:"external_order_id" validate:"omitempty,max=128"`
	Payment         *PaymentRequest `json:"payment" validate:"omitempty"`
}

// PaymentRequest is the optional card payment of a booking.
type PaymentRequest struct {
	CardToken string `json:"card_token" validate:"required"`
	SaveCard  bool   `json:"save_card"`
	Email     string `json:"email" validate:"omitempty,email"`
}

func (r *CreateRequest) input() CreateInput {
	in := CreateInput{
		ResourceID:      r.ResourceID,
		Date:            r.Date,
		StartTime:       r.StartTime,
		Hours:           r.Hours,
		Discount:        r.Discount,
		ExternalOrderID: r.ExternalOrderID,
	}
	if r.Payment != nil {
		in.Payment = &PaymentInput{CardToken: r.Payment.CardToken, SaveCard: r.Payment.SaveCard, Email: r.Payment.Email}
	}
	return in
}

// RescheduleRequest moves a reservation to a new span.
type RescheduleRequest struct {
	Date      string `json:"date" validate:"required,date"`
	StartTime string `json:"start_time" validate:"required,slot"`
	Hours     int    `json:"hours" validate:"required,gte=1,lte=24"`
}

// ReasonRequest carries an optional reason for cancel and reject.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ConfirmBatchRequest confirms every pending reservation of an external order.
type ConfirmBatchRequest struct {
	ExternalOrderID string `json:"external_order_id" validate:"required,max=128"`
}

// PaymentResponse is the customer-facing view of the payment sub-record.
type PaymentResponse struct {
	Status        PaymentStatus `json:"status"`
	Amount        int64         `json:"amount"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Refund        RefundStatus  `json:"refund,omitempty"`
	RefundReason  string        `json:"refund_failure_reason,omitempty"`
}

// ReservationResponse represents a reservation in API responses.
type ReservationResponse struct {
	ID              uuid.UUID        `json:"id"`
	ResourceID      uuid.UUID        `json:"resource_id"`
	StudioID        *uuid.UUID       `json:"studio_id,omitempty"`
	CustomerID      uuid.UUID        `json:"customer_id"`
	VendorID        uuid.UUID        `json:"vendor_id"`
	Date            string           `json:"date"`
	TimeSlots       []string         `json:"time_slots"`
	Status          Status           `json:"status"`
	StatusReason    string           `json:"status_reason,omitempty"`
	ItemPrice       int64            `json:"item_price"`
	Discount        int64            `json:"discount"`
	TotalPrice      int64            `json:"total_price"`
	Payment         *PaymentResponse `json:"payment,omitempty"`
	ExternalOrderID string           `json:"external_order_id,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewReservationResponse maps the entity to its API shape.
func NewReservationResponse(r *Reservation) *ReservationResponse {
	resp := &ReservationResponse{
		ID:              r.ID,
		ResourceID:      r.ResourceID,
		CustomerID:      r.CustomerID,
		VendorID:        r.VendorID,
		Date:            r.BookingDate,
		TimeSlots:       r.TimeSlots,
		Status:          r.Status,
		StatusReason:    r.StatusReason,
		ItemPrice:       r.ItemPrice,
		Discount:        r.Discount,
		TotalPrice:      r.TotalPrice,
		ExternalOrderID: r.ExternalOrderID,
		ExpiresAt:       r.ExpiresAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.StudioID.Valid {
		id := r.StudioID.UUID
		resp.StudioID = &id
	}
	if r.Payment != nil {
		resp.Payment = &PaymentResponse{
			Status:        r.Payment.Status,
			Amount:        r.Payment.Amount,
			FailureReason: r.Payment.FailureReason,
			Refund:        r.Payment.Refund,
			RefundReason:  r.Payment.RefundFailureReason,
		}
	}
	return resp
}

func newReservationResponses(list []*Reservation) []*ReservationResponse {
	out := make([]*ReservationResponse, 0, len(list))
	for _, r := range list {
		out = append(out, NewReservationResponse(r))
	}
	return out
}

// ConfirmBatchResponse lists what a batch confirm did.
type ConfirmBatchResponse struct {
	Confirmed []*ReservationResponse `json:"confirmed"`
	Errors    []string               `json:"errors,omitempty"`
}

// RescheduleOptionsResponse lists the slots a reservation may move to.
type RescheduleOptionsResponse struct {
	Date  string   `json:"date"`
	Times []string `json:"times"`
}
