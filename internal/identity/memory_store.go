package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory user store for demo/development mode.
type MemoryStore struct {
	users map[string]*User
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

// Put inserts or replaces a user.
func (m *MemoryStore) Put(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
