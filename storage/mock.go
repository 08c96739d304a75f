package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"accountd/core"
)

// MockRepository keeps accounts in memory. Records are deep copied on the
// way in and out so callers never share state with the store.
type MockRepository struct {
	mu        sync.RWMutex
	order     []string
	accounts  map[string]core.AccountData
	defaultID string

	// SaveErr, when set, is returned by every SaveAccount call.
	SaveErr error
	saves   int
}

var _ core.AccountRepository = (*MockRepository)(nil)

func NewMockRepository(seed ...core.AccountData) *MockRepository {
	m := &MockRepository{accounts: make(map[string]core.AccountData)}
	for _, a := range seed {
		m.order = append(m.order, a.InternalID)
		m.accounts[a.InternalID] = a.Clone()
	}
	return m
}

func (m *MockRepository) ListAccounts(ctx context.Context) ([]core.AccountData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.AccountData, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.accounts[id].Clone())
	}
	return out, nil
}

func (m *MockRepository) FindAccount(ctx context.Context, id string) (*core.AccountData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	c := a.Clone()
	return &c, nil
}

func (m *MockRepository) SaveAccount(ctx context.Context, account *core.AccountData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if account.InternalID == "" {
		return fmt.Errorf("account has no id")
	}
	if _, ok := m.accounts[account.InternalID]; !ok {
		m.order = append(m.order, account.InternalID)
	}
	m.accounts[account.InternalID] = account.Clone()
	return nil
}

func (m *MockRepository) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.accounts, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
	if m.defaultID == id {
		m.defaultID = ""
	}
	return nil
}

func (m *MockRepository) DefaultAccountID(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultID, nil
}

func (m *MockRepository) SetDefaultAccountID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultID = id
	return nil
}

// SaveCount returns how many times SaveAccount was called.
func (m *MockRepository) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
