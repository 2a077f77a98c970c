// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/people-tracker/internal/database"
)

// MockIdentityRepository is an in-memory database.IdentityRepository
type MockIdentityRepository struct {
	mu         sync.RWMutex
	identities map[int64]database.StoredIdentity
	saves      []int64

	// Error injection
	LoadError  error
	SaveError  error
	CountError error
}

// NewMockIdentityRepository creates an empty mock repository
func NewMockIdentityRepository() *MockIdentityRepository {
	return &MockIdentityRepository{
		identities: make(map[int64]database.StoredIdentity),
	}
}

// AddIdentity seeds the mock store
func (m *MockIdentityRepository) AddIdentity(ident database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[ident.ID] = ident
}

// LoadIdentities returns the stored identities ordered by ID
func (m *MockIdentityRepository) LoadIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.StoredIdentity, 0, len(m.identities))
	for _, ident := range m.identities {
		out = append(out, ident)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// SaveIdentity stores the identity and records the call
func (m *MockIdentityRepository) SaveIdentity(ctx context.Context, ident database.StoredIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, ident.ID)
	if m.SaveError != nil {
		return m.SaveError
	}
	m.identities[ident.ID] = ident
	return nil
}

// CountIdentities returns the number of stored identities
func (m *MockIdentityRepository) CountIdentities(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// Get returns a stored identity
func (m *MockIdentityRepository) Get(id int64) (database.StoredIdentity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[id]
	return ident, ok
}

// Saves returns the IDs passed to SaveIdentity, in call order, including failed calls
func (m *MockIdentityRepository) Saves() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.saves...)
}

// SetSaveError changes the injected save error under the lock
func (m *MockIdentityRepository) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveError = err
}
