package availability

import (
	"github.com/google/uuid"

	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

// SpanRequest addresses a contiguous span of hours on one date.
type SpanRequest struct {
	Date      string `json:"date" validate:"required,date"`
	StartTime string `json:"start_time" validate:"required,slot"`
	Hours     int    `json:"hours" validate:"required,gte=1,lte=24"`
}

// Slots expands the span into slot labels.
func (r *SpanRequest) Slots() ([]string, error) {
	slots, err := timeslot.Generate(r.StartTime, r.Hours)
	if err != nil {
		return nil, ErrInvalidRange.With(err)
	}
	return slots, nil
}

// AvailabilityResponse lists the free slots of a resource on a date.
type AvailabilityResponse struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Date       string    `json:"date"`
	Times      []string  `json:"times"`
}

// CheckResponse answers an admission check.
type CheckResponse struct {
	Available bool     `json:"available"`
	Slots     []string `json:"slots"`
}

// BlockResponse reports the slots a block or unblock touched.
type BlockResponse struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Date       string    `json:"date"`
	Slots      []string  `json:"slots"`
}
