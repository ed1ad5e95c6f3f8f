// Package ledger tracks seller balances on the platform.
//
// The balance has exactly two writers: it is credited when an escrow
// transaction completes and debited when a withdrawal is approved. No other
// code path may move money. Every movement leaves an append-only entry.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// EntryType classifies a balance movement.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Entry is one append-only balance movement.
type Entry struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Type        EntryType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"` // transaction id or withdrawal id
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Balance is a user's current position.
type Balance struct {
	UserID    string          `json:"userId"`
	Available decimal.Decimal `json:"available"`
	TotalIn   decimal.Decimal `json:"totalIn"`  // lifetime credits
	TotalOut  decimal.Decimal `json:"totalOut"` // lifetime debits
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store persists ledger data. Credit and Debit must each be atomic; Debit
// must fail with ErrInsufficientBalance rather than overdraw.
type Store interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error
	Debit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error
	GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error)
}

// Ledger manages user balances.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns a user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	return l.store.GetBalance(ctx, userID)
}

// Credit adds funds to a user's balance. Called only when an escrow
// transaction reaches completed.
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.Credit(ctx, userID, amount, reference, description)
}

// Debit removes funds from a user's balance. Called only when a withdrawal
// is approved, after the external transfer has been confirmed.
func (l *Ledger) Debit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.Debit(ctx, userID, amount, reference, description)
}

// CanCover checks whether a user's available balance covers amount.
func (l *Ledger) CanCover(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	bal, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal.Available.GreaterThanOrEqual(amount), nil
}

// GetHistory returns ledger entries for a user, newest first.
func (l *Ledger) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, userID, limit)
}
