package reservation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps reservations in process. Used for local runs and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Reservation
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]*Reservation)}
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) Create(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rows[r.ID]; exists {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1
	m.rows[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.rows[r.ID]
	if !ok || current.Version != r.Version {
		return fmt.Errorf("reservation %s: %w", r.ID, ErrVersionConflict)
	}
	r.Version++
	r.UpdatedAt = time.Now()
	m.rows[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter) ([]*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Reservation
	for _, r := range m.rows {
		if matches(r, f) {
			out = append(out, r.Clone())
		}
	}

	if !f.ExpiredBefore.IsZero() {
		sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	if limit := int(limitOf(f)); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(r *Reservation, f Filter) bool {
	switch {
	case f.ResourceID != uuid.Nil && r.ResourceID != f.ResourceID:
		return false
	case f.StudioID != uuid.Nil && (!r.StudioID.Valid || r.StudioID.UUID != f.StudioID):
		return false
	case f.CustomerID != uuid.Nil && r.CustomerID != f.CustomerID:
		return false
	case f.VendorID != uuid.Nil && r.VendorID != f.VendorID:
		return false
	case f.Date != "" && r.BookingDate != f.Date:
		return false
	case f.ExternalOrderID != "" && r.ExternalOrderID != f.ExternalOrderID:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status):
		return false
	case !f.ExpiredBefore.IsZero() && (r.ExpiresAt == nil || !r.ExpiresAt.Before(f.ExpiredBefore)):
		return false
	}
	return true
}
