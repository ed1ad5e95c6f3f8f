package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rmarchiori/gameswap/internal/idgen"
)

// Service opens channels and enforces participant-only access.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new chat service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Open creates the fulfillment channel for a transaction, seeded with a
// system message describing the escrow hold. Opening is idempotent per
// transaction: if a chat already exists it is returned unchanged.
func (s *Service) Open(ctx context.Context, txnID, productID, productTitle, buyerID, sellerID string) (*Chat, error) {
	if existing, err := s.store.GetChatByTransaction(ctx, txnID); err == nil {
		return existing, nil
	}

	now := time.Now()
	c := &Chat{
		ID:            idgen.WithPrefix("chat_"),
		TransactionID: txnID,
		ProductID:     productID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		CreatedAt:     now,
	}
	seed := []*Message{{
		ID:       idgen.WithPrefix("msg_"),
		ChatID:   c.ID,
		SenderID: SenderSystem,
		Content: fmt.Sprintf("Payment for %q is held in escrow. "+
			"Coordinate delivery here; the buyer confirms receipt to release the funds.", productTitle),
		CreatedAt: now,
	}}

	if err := s.store.CreateChat(ctx, c, seed); err != nil {
		return nil, fmt.Errorf("open chat for transaction %s: %w", txnID, err)
	}
	s.logger.Info("chat opened", "chat", c.ID, "transaction", txnID)
	return c, nil
}

// GetByTransaction returns the chat bound to a transaction, without a
// participant check. Intended for internal callers posting system
// messages.
func (s *Service) GetByTransaction(ctx context.Context, txnID string) (*Chat, error) {
	return s.store.GetChatByTransaction(ctx, txnID)
}

// Get returns a chat and its messages for a participant.
func (s *Service) Get(ctx context.Context, chatID, userID string) (*Chat, []*Message, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, nil, ErrNotParticipant
	}
	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	return c, msgs, nil
}

// Post appends a user message to a chat.
func (s *Service) Post(ctx context.Context, chatID, userID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	msg := &Message{
		ID:        idgen.WithPrefix("msg_"),
		ChatID:    chatID,
		SenderID:  userID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("post message to chat %s: %w", chatID, err)
	}
	return msg, nil
}

// PostSystem appends a platform message, used for dispute and resolution
// notices. Errors are returned for the caller to log; a failed system
// message never blocks the transaction transition that triggered it.
func (s *Service) PostSystem(ctx context.Context, chatID, content string) error {
	msg := &Message{
		ID:        idgen.WithPrefix("msg_"),
		ChatID:    chatID,
		SenderID:  SenderSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}
	return s.store.AddMessage(ctx, msg)
}
