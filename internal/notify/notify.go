// Package notify provides the per-user notification inbox.
//
// Notifications are append-only side-effect records. Emitting one must never
// block or fail the state transition that produced it; failures are logged
// and dropped.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rmarchiori/gameswap/internal/pagination"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Type classifies a notification for inbox rendering.
type Type string

const (
	TypePurchase   Type = "purchase"
	TypeSale       Type = "sale"
	TypeWithdrawal Type = "withdrawal"
	TypeSystem     Type = "system"
	TypeDispute    Type = "dispute"
)

// Notification is one inbox item.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Type      Type      `json:"type"`
	IsRead    bool      `json:"isRead"`
	ActionURL string    `json:"actionUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	// ListByUser returns the inbox newest first, starting after the
	// cursor position when one is given.
	ListByUser(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}
