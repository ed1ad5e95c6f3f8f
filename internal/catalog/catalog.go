// Package catalog exposes the slice of the product service this core needs:
// price and commission reads, and the active/sold status flip on settlement.
//
// Product CRUD, search, and browsing live elsewhere. A product sold through
// escrow returns to the catalog in exactly two cases: an explicit admin
// reactivation after a refund decision, or a failed charge voiding the
// settlement that sold it. A completed sale never reverts.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrNotAvailable    = errors.New("product is not available")
)

// Status is the lifecycle state of a product listing.
type Status string

const (
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusSuspended Status = "suspended"
)

// Product is a marketplace listing.
type Product struct {
	ID             string          `json:"id"`
	SellerID       string          `json:"sellerId"`
	Title          string          `json:"title"`
	Price          decimal.Decimal `json:"price"`
	CommissionRate decimal.Decimal `json:"commissionRate"` // percent, e.g. 15 means 15%
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Store persists product data.
type Store interface {
	Get(ctx context.Context, id string) (*Product, error)
	// SetStatus transitions a product from one status to another.
	// Returns ErrNotAvailable when the product is not currently in from.
	SetStatus(ctx context.Context, id string, from, to Status) error
}
