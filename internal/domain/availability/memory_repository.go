package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process. Used for local runs and tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	resources map[uuid.UUID]Resource
	studios   map[uuid.UUID]Studio
	days      map[dayKey]DateAvailability
}

type dayKey struct {
	resourceID uuid.UUID
	date       string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		resources: make(map[uuid.UUID]Resource),
		studios:   make(map[uuid.UUID]Studio),
		days:      make(map[dayKey]DateAvailability),
	}
}

func (m *MemoryRepository) GetResource(_ context.Context, id uuid.UUID) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	res.OperatingHours = append([]string(nil), res.OperatingHours...)
	return &res, nil
}

func (m *MemoryRepository) ListResourcesByStudio(_ context.Context, studioID, excludeID uuid.UUID) ([]*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Resource
	for _, res := range m.resources {
		if !res.StudioID.Valid || res.StudioID.UUID != studioID || res.ID == excludeID {
			continue
		}
		res := res
		res.OperatingHours = append([]string(nil), res.OperatingHours...)
		out = append(out, &res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) SaveResource(_ context.Context, res *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	stored := *res
	stored.OperatingHours = append([]string(nil), res.OperatingHours...)
	m.resources[res.ID] = stored
	return nil
}

func (m *MemoryRepository) GetStudio(_ context.Context, id uuid.UUID) (*Studio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.studios[id]
	if !ok {
		return nil, ErrStudioNotFound
	}
	s.OperatingHours = append([]string(nil), s.OperatingHours...)
	return &s, nil
}

func (m *MemoryRepository) SaveStudio(_ context.Context, s *Studio) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	stored := *s
	stored.OperatingHours = append([]string(nil), s.OperatingHours...)
	m.studios[s.ID] = stored
	return nil
}

func (m *MemoryRepository) IncrementStudioBookings(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.studios[id]
	if !ok {
		return ErrStudioNotFound
	}
	s.BookingCount++
	s.UpdatedAt = time.Now()
	m.studios[id] = s
	return nil
}

func (m *MemoryRepository) GetDay(_ context.Context, resourceID uuid.UUID, date string) (*DateAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day, ok := m.days[dayKey{resourceID, date}]
	if !ok {
		return nil, nil
	}
	day.Times = append([]string(nil), day.Times...)
	return &day, nil
}

func (m *MemoryRepository) SaveDay(_ context.Context, day *DateAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dayKey{day.ResourceID, day.Date}
	current, exists := m.days[key]
	switch {
	case day.Version == 0 && exists:
		return fmt.Errorf("resource %s on %s: %w", day.ResourceID, day.Date, ErrVersionConflict)
	case day.Version != 0 && (!exists || current.Version != day.Version):
		return fmt.Errorf("resource %s on %s: %w", day.ResourceID, day.Date, ErrVersionConflict)
	}

	day.Version++
	day.UpdatedAt = time.Now()

	stored := *day
	stored.Times = append([]string(nil), day.Times...)
	m.days[key] = stored
	return nil
}
