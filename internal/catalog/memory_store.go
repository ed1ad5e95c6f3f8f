package catalog

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory product store for demo/development mode.
type MemoryStore struct {
	products map[string]*Product
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory product store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]*Product)}
}

// Put inserts or replaces a product.
func (m *MemoryStore) Put(p *Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	if p.Status != from {
		return ErrNotAvailable
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return nil
}
