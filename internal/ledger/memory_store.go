package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/idgen"
	"github.com/rmarchiori/gameswap/internal/syncutil"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
// Per-user keyed mutexes serialize credit/debit so concurrent movements on
// the same balance cannot interleave their read-modify-write.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	mu       sync.RWMutex
	userLock syncutil.ShardedMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]*Balance)}
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bal, ok := m.balances[userID]
	if !ok {
		return &Balance{
			UserID:    userID,
			Available: decimal.Zero,
			TotalIn:   decimal.Zero,
			TotalOut:  decimal.Zero,
			UpdatedAt: time.Now(),
		}, nil
	}
	cp := *bal
	return &cp, nil
}

func (m *MemoryStore) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error {
	unlock := m.userLock.Lock(userID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[userID]
	if !ok {
		bal = &Balance{UserID: userID, Available: decimal.Zero, TotalIn: decimal.Zero, TotalOut: decimal.Zero}
		m.balances[userID] = bal
	}
	bal.Available = bal.Available.Add(amount)
	bal.TotalIn = bal.TotalIn.Add(amount)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.New(),
		UserID:      userID,
		Type:        EntryCredit,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error {
	unlock := m.userLock.Lock(userID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[userID]
	if !ok || bal.Available.LessThan(amount) {
		return ErrInsufficientBalance
	}
	bal.Available = bal.Available.Sub(amount)
	bal.TotalOut = bal.TotalOut.Add(amount)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          idgen.New(),
		UserID:      userID,
		Type:        EntryDebit,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
