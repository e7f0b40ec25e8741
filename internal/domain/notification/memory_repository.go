package notification

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps notifications in process.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]*Notification)}
}

func (m *MemoryRepository) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.items[n.ID] = &c
	return nil
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for _, n := range m.items {
		if n.UserID == userID {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) CountUnreadByUser(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, n := range m.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) MarkAsRead(_ context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.IsRead = true
	n.ReadAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (m *MemoryRepository) MarkAllAsRead(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, n := range m.items {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = sql.NullTime{Time: now, Valid: true}
		}
	}
	return nil
}

func (m *MemoryRepository) DeleteOlderThan(_ context.Context, readAge, anyAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var deleted int64
	for id, n := range m.items {
		age := now.Sub(n.CreatedAt)
		if (n.IsRead && age > readAge) || age > anyAge {
			delete(m.items, id)
			deleted++
		}
	}
	return deleted, nil
}
