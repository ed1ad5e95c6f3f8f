// Package escrow holds the marketplace transaction state machine.
//
// Flow:
//  1. Gateway confirms payment → a transaction per cart item enters
//     escrow and the product leaves the catalog
//  2. Buyer confirms delivery → seller's balance is credited net of
//     commission, transaction completed
//  3. Either party disputes → transaction frozen until an admin
//     resolves it as a release or a refund
//
// Commission is captured at settlement time: the fee and net amounts
// are computed from the product's rate when the transaction is created
// and never recomputed, so later rate changes cannot alter a
// settlement already in flight.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid transaction status for this operation")
	ErrUnauthorized        = errors.New("not authorized for this transaction operation")
	ErrNotDisputed         = errors.New("transaction is not disputed")
	// ErrDuplicateSettlement is returned when a settlement for the same
	// payment reference and product already exists. Webhook redeliveries
	// land here and are treated as success.
	ErrDuplicateSettlement = errors.New("settlement already recorded")
)

// Status is the state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"   // Payment capture still processing
	StatusEscrow    Status = "escrow"    // Funds captured, held by the platform
	StatusCompleted Status = "completed" // Seller credited net of commission
	StatusDisputed  Status = "disputed"  // Frozen pending admin resolution
	StatusRefunded  Status = "refunded"  // Buyer refunded, nothing credited
)

// Transaction is one product's settlement within a checkout. A cart of
// N products yields N transactions sharing one payment reference, each
// advancing through the state machine independently.
type Transaction struct {
	ID             string          `json:"id"`
	PaymentRef     string          `json:"paymentRef"`
	ProductID      string          `json:"productId"`
	ProductTitle   string          `json:"productTitle"`
	BuyerID        string          `json:"buyerId"`
	SellerID       string          `json:"sellerId"`
	Gross          decimal.Decimal `json:"gross"`
	Fee            decimal.Decimal `json:"fee"`
	Net            decimal.Decimal `json:"net"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	Status         Status          `json:"status"`
	DisputeReason  string          `json:"disputeReason,omitempty"`
	ResolvedBy     string          `json:"resolvedBy,omitempty"` // admin user id, set on dispute resolution
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// IsTerminal reports whether the transaction reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusRefunded
}

// HasParty reports whether userID is the buyer or the seller.
func (t *Transaction) HasParty(userID string) bool {
	return userID == t.BuyerID || userID == t.SellerID
}

// canTransition is the full transition table. Anything not listed is
// rejected without touching the record.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusEscrow || to == StatusRefunded
	case StatusEscrow:
		// refunded covers an upstream charge failure after capture;
		// buyers and admins go through disputed instead.
		return to == StatusCompleted || to == StatusDisputed || to == StatusRefunded
	case StatusDisputed:
		return to == StatusCompleted || to == StatusRefunded
	default:
		return false
	}
}

// TradeSide narrows a user's transaction history to one side of the
// trade.
type TradeSide string

const (
	SideAll       TradeSide = "all"
	SidePurchases TradeSide = "purchases"
	SideSales     TradeSide = "sales"
)

// Matches reports whether the transaction sits on the given side for
// the user.
func (t *Transaction) Matches(userID string, side TradeSide) bool {
	switch side {
	case SidePurchases:
		return t.BuyerID == userID
	case SideSales:
		return t.SellerID == userID
	default:
		return t.HasParty(userID)
	}
}

// Mutation carries the field updates applied together with a status
// transition. Zero values leave the stored field untouched.
type Mutation struct {
	DisputeReason string
	ResolvedBy    string
	Completed     bool // set CompletedAt to now
}

// Store persists transactions.
type Store interface {
	// CreateSettlement inserts all transactions of one checkout and
	// flips each product to sold, atomically. Returns
	// ErrDuplicateSettlement when any (payment_ref, product) pair
	// already exists.
	CreateSettlement(ctx context.Context, txns []*Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// ListByPaymentRef returns all transactions of one checkout.
	ListByPaymentRef(ctx context.Context, ref string) ([]*Transaction, error)
	// ListByUser returns the user's transactions on the given side of
	// the trade, newest first.
	ListByUser(ctx context.Context, userID string, side TradeSide, limit int) ([]*Transaction, error)
	// ListByStatus returns transactions in the given status, oldest
	// first. Used for the admin dispute queue.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error)
	// Transition moves a transaction from one status to another,
	// applying mut in the same write. The from check is atomic: a
	// concurrent writer that got there first makes this return
	// ErrInvalidTransition, never a double update.
	Transition(ctx context.Context, id string, from, to Status, mut Mutation) error
}
