package payout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory withdrawal store for tests and dev mode.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Withdrawal
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Withdrawal)}
}

func (s *MemoryStore) Create(_ context.Context, w *Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.items[w.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.items[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Withdrawal
	for _, w := range s.items {
		if w.UserID == userID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]*Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Withdrawal
	for _, w := range s.items {
		if w.Status == StatusPending {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string, to Status, transferID, adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.items[id]
	if !ok {
		return ErrWithdrawalNotFound
	}
	if w.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	now := time.Now()
	w.Status = to
	w.TransferID = transferID
	w.ProcessedBy = adminID
	w.ProcessedAt = &now
	w.UpdatedAt = now
	return nil
}
