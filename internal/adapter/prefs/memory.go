package prefs

import (
	"context"
	"sync"

	"chatline/internal/domain"
)

// MemoryStore keeps the selection for the lifetime of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	sel domain.Selection
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements domain.Preferences.
func (m *MemoryStore) Load(_ context.Context) (domain.Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sel, nil
}

// Save implements domain.Preferences.
func (m *MemoryStore) Save(_ context.Context, sel domain.Selection) error {
	m.mu.Lock()
	m.sel = sel
	m.mu.Unlock()
	return nil
}

var _ domain.Preferences = (*MemoryStore)(nil)
