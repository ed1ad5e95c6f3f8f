package chat

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory chat store for tests and dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*Chat
	byTxn    map[string]string
	messages map[string][]*Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*Chat),
		byTxn:    make(map[string]string),
		messages: make(map[string][]*Message),
	}
}

func (s *MemoryStore) CreateChat(_ context.Context, chat *Chat, seed []*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *chat
	s.chats[chat.ID] = &cp
	s.byTxn[chat.TransactionID] = chat.ID
	for _, m := range seed {
		mc := *m
		s.messages[chat.ID] = append(s.messages[chat.ID], &mc)
	}
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetChatByTransaction(_ context.Context, txnID string) (*Chat, error) {
	s.mu.RLock()
	id, ok := s.byTxn[txnID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrChatNotFound
	}
	return s.GetChat(context.Background(), id)
}

func (s *MemoryStore) AddMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[msg.ChatID]; !ok {
		return ErrChatNotFound
	}
	cp := *msg
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, chatID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.messages[chatID]
	out := make([]*Message, 0, len(items))
	for _, m := range items {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}
