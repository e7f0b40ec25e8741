package calendar

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

type blockKey struct {
	accountID uuid.UUID
	eventID   string
}

// MemoryRepository keeps accounts and blocks in process. Used for local runs and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	blocks   map[blockKey]*Block
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[uuid.UUID]*Account),
		blocks:   make(map[blockKey]*Block),
	}
}

func (m *MemoryRepository) GetAccount(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (m *MemoryRepository) ListActiveAccounts(_ context.Context) ([]*Account, error) {
	return m.filter(func(a *Account) bool { return a.IsActive }), nil
}

func (m *MemoryRepository) ListAccountsByVendor(_ context.Context, vendorID uuid.UUID) ([]*Account, error) {
	return m.filter(func(a *Account) bool { return a.VendorID == vendorID }), nil
}

func (m *MemoryRepository) FindByResource(_ context.Context, resourceID uuid.UUID) (*Account, error) {
	found := m.filter(func(a *Account) bool { return a.IsActive && a.ResourceID == resourceID })
	if len(found) == 0 {
		return nil, ErrAccountNotFound
	}
	return found[0], nil
}

func (m *MemoryRepository) filter(keep func(*Account) bool) []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Account
	for _, a := range m.accounts {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepository) SaveAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.LastSyncStatus == "" {
		a.LastSyncStatus = SyncStatusPending
	}
	c := *a
	m.accounts[a.ID] = &c
	return nil
}

func (m *MemoryRepository) UpdateTokens(_ context.Context, id uuid.UUID, access, refresh string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.AccessToken = access
	a.RefreshToken = refresh
	a.TokenExpiresAt = expiresAt
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) UpdateSyncState(_ context.Context, id uuid.UUID, state SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if state.SyncToken != "" {
		a.SyncToken = state.SyncToken
	}
	at := state.At
	a.LastSyncAt = &at
	a.LastSyncStatus = state.Status
	a.LastSyncError = state.Error
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) ListBlocks(_ context.Context, accountID uuid.UUID) ([]*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Block
	for k, b := range m.blocks {
		if k.accountID == accountID {
			c := *b
			c.Slots = append(pq.StringArray(nil), b.Slots...)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (m *MemoryRepository) SaveBlock(_ context.Context, b *Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.UpdatedAt = time.Now()
	c := *b
	c.Slots = append(pq.StringArray(nil), b.Slots...)
	m.blocks[blockKey{accountID: b.AccountID, eventID: b.EventID}] = &c
	return nil
}

func (m *MemoryRepository) DeleteBlock(_ context.Context, accountID uuid.UUID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blocks, blockKey{accountID: accountID, eventID: eventID})
	return nil
}

func (m *MemoryRepository) BlockedSlots(_ context.Context, resourceIDs []uuid.UUID, date string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, b := range m.blocks {
		if b.Date == date && slices.Contains(resourceIDs, b.ResourceID) {
			out = timeslot.Union(out, b.Slots)
		}
	}
	return out, nil
}
