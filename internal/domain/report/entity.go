package report

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies an incident that needs manual operator follow-up.
type Kind string

const (
	KindRefundFailed           Kind = "refund_failed"
	KindSiblingRepairExhausted Kind = "sibling_repair_exhausted"
	KindCalendarSyncFailed     Kind = "calendar_sync_failed"
	KindChargeUnrecorded       Kind = "charge_unrecorded"
)

// Incident is one follow-up item.
type Incident struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
