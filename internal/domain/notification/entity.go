package notification

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is a message delivered to one user. Kind names the event, for
// example "reservation.confirmed", and Payload carries its details.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Kind      string          `db:"kind" json:"kind"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	ReadAt    sql.NullTime    `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Data decodes the payload.
func (n *Notification) Data() map[string]any {
	if len(n.Payload) == 0 {
		return nil
	}
	var data map[string]any
	_ = json.Unmarshal(n.Payload, &data)
	return data
}
