package escrow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rmarchiori/gameswap/internal/catalog"
)

// MemoryStore is an in-memory transaction store for tests and dev mode.
// It mirrors the PostgreSQL store's invariants: settlements are
// all-or-nothing and the (payment ref, product) pair is unique.
type MemoryStore struct {
	mu       sync.RWMutex
	txns     map[string]*Transaction
	byPair   map[string]string // paymentRef|productID -> txn id
	products catalog.Store
}

// NewMemoryStore creates an empty in-memory store. products receives
// the sold flips that the SQL store does in the settlement transaction.
func NewMemoryStore(products catalog.Store) *MemoryStore {
	return &MemoryStore{
		txns:     make(map[string]*Transaction),
		byPair:   make(map[string]string),
		products: products,
	}
}

func pairKey(ref, productID string) string { return ref + "|" + productID }

func (s *MemoryStore) CreateSettlement(ctx context.Context, txns []*Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txns {
		if _, dup := s.byPair[pairKey(t.PaymentRef, t.ProductID)]; dup {
			return ErrDuplicateSettlement
		}
	}
	for _, t := range txns {
		cp := *t
		s.txns[t.ID] = &cp
		s.byPair[pairKey(t.PaymentRef, t.ProductID)] = t.ID
		err := s.products.SetStatus(ctx, t.ProductID, catalog.StatusActive, catalog.StatusSold)
		if err != nil && !errors.Is(err, catalog.ErrNotAvailable) {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListByPaymentRef(_ context.Context, ref string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.PaymentRef == ref {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, side TradeSide, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.Matches(userID, side) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status, mut Mutation) error {
	if !canTransition(from, to) {
		return ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if t.Status != from {
		return ErrInvalidTransition
	}

	now := time.Now()
	t.Status = to
	t.UpdatedAt = now
	if mut.DisputeReason != "" {
		t.DisputeReason = mut.DisputeReason
	}
	if mut.ResolvedBy != "" {
		t.ResolvedBy = mut.ResolvedBy
	}
	if mut.Completed {
		t.CompletedAt = &now
	}
	return nil
}
