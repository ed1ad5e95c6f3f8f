package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/rmarchiori/gameswap/internal/pagination"
)

// MemoryStore is an in-memory notification store for tests and dev mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]*Notification
	byID   map[string]*Notification
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string][]*Notification),
		byID:   make(map[string]*Notification),
	}
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.byUser[n.UserID] = append(s.byUser[n.UserID], &cp)
	s.byID[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, cursor *pagination.Cursor, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.byUser[userID]
	out := make([]*Notification, 0, len(items))
	for _, n := range items {
		if cursor != nil {
			if n.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if n.CreatedAt.Equal(cursor.CreatedAt) && n.ID >= cursor.ID {
				continue
			}
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok || n.UserID != userID {
		return ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}
