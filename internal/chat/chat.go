// Package chat provides per-transaction fulfillment channels between
// buyer and seller. A channel is opened automatically when a sale
// settles into escrow and is seeded with a system message so both
// parties see the escrow terms up front.
package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrChatNotFound is returned when no chat exists for the given id.
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotParticipant is returned when a user who is neither buyer nor
	// seller tries to read or post to a chat.
	ErrNotParticipant = errors.New("user is not a participant of this chat")
	// ErrEmptyMessage is returned for a blank message body.
	ErrEmptyMessage = errors.New("message content must not be empty")
)

// SenderSystem marks messages generated by the platform rather than a user.
const SenderSystem = "system"

// Chat is a buyer/seller conversation bound to a single transaction.
type Chat struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	ProductID     string    `json:"product_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is a single chat message. SenderID is SenderSystem for
// platform-generated messages.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is the buyer or the seller.
func (c *Chat) HasParticipant(userID string) bool {
	return userID == c.BuyerID || userID == c.SellerID
}

// Store persists chats and their messages.
type Store interface {
	// CreateChat inserts a chat and its seed messages atomically.
	CreateChat(ctx context.Context, chat *Chat, seed []*Message) error
	// GetChat returns a chat by id.
	GetChat(ctx context.Context, id string) (*Chat, error)
	// GetChatByTransaction returns the chat bound to a transaction.
	GetChatByTransaction(ctx context.Context, txnID string) (*Chat, error)
	// AddMessage appends a message to an existing chat.
	AddMessage(ctx context.Context, msg *Message) error
	// ListMessages returns a chat's messages oldest first.
	ListMessages(ctx context.Context, chatID string) ([]*Message, error)
}
