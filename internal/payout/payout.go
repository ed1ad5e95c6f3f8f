// Package payout handles seller withdrawals. A withdrawal only reserves
// nothing at request time: the balance check repeats at approval, and
// the debit happens strictly after the external transfer went out, so
// the ledger never shows money the platform no longer holds.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrBelowMinimum is returned for requests under MinAmount.
	ErrBelowMinimum = errors.New("amount is below the minimum withdrawal")
	// ErrUnverifiedAccount is returned when the requesting account has
	// not completed verification.
	ErrUnverifiedAccount = errors.New("account is not verified for withdrawals")
	// ErrAlreadyProcessed is returned when approving or rejecting a
	// withdrawal that already left pending.
	ErrAlreadyProcessed = errors.New("withdrawal already processed")
	// ErrInvalidMethod is returned for an unsupported payout method.
	ErrInvalidMethod = errors.New("unsupported withdrawal method")
)

// MinAmount is the smallest withdrawal the platform pays out.
var MinAmount = decimal.RequireFromString("10.00")

// Method is how the money leaves the platform.
type Method string

const (
	MethodPix          Method = "pix"
	MethodBankTransfer Method = "bank_transfer"
)

// Status is the state of a withdrawal request.
type Status string

const (
	StatusPending  Status = "pending"  // Awaiting admin review
	StatusApproved Status = "approved" // Transfer sent, balance debited
	StatusRejected Status = "rejected" // Declined, balance untouched
)

// Withdrawal is a seller's request to move balance off the platform.
type Withdrawal struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Method      Method          `json:"method"`
	Destination string          `json:"destination"` // pix key or bank account reference
	Status      Status          `json:"status"`
	TransferID  string          `json:"transferId,omitempty"`
	ProcessedBy string          `json:"processedBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
}

// Store persists withdrawals.
type Store interface {
	Create(ctx context.Context, w *Withdrawal) error
	Get(ctx context.Context, id string) (*Withdrawal, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Withdrawal, error)
	// ListPending returns the admin review queue, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Withdrawal, error)
	// MarkProcessed moves a withdrawal out of pending. The pending
	// check is atomic; a lost race returns ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, id string, to Status, transferID, adminID string) error
}
