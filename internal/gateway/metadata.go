package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrBadMetadata is returned when a checkout envelope cannot be decoded
// or fails validation.
var ErrBadMetadata = errors.New("malformed checkout metadata")

// CheckoutMetadata is the envelope attached to a provider checkout
// session and echoed back verbatim on its webhook events. It carries
// everything settlement needs so that a webhook can be processed even
// when it races the HTTP response that created the session.
type CheckoutMetadata struct {
	BuyerID string     `json:"buyer_id"`
	Items   []CartItem `json:"cart_items"`
}

// CartItem is a snapshot of one purchased product at checkout time.
// Price is the value shown to the buyer when the session was created;
// later catalog edits do not affect settlement.
type CartItem struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Encode serializes the envelope into provider metadata fields. The
// cart is stored as a JSON string because provider metadata values are
// flat strings.
func (m CheckoutMetadata) Encode() (map[string]string, error) {
	items, err := json.Marshal(m.Items)
	if err != nil {
		return nil, fmt.Errorf("encode cart items: %w", err)
	}
	return map[string]string{
		"buyer_id":   m.BuyerID,
		"cart_items": string(items),
	}, nil
}

// DecodeMetadata parses provider metadata fields back into an envelope
// and validates it. Events whose metadata was not produced by this
// system decode to an error, never to a partial envelope.
func DecodeMetadata(fields map[string]string) (*CheckoutMetadata, error) {
	buyerID := fields["buyer_id"]
	raw := fields["cart_items"]
	if buyerID == "" || raw == "" {
		return nil, fmt.Errorf("%w: missing buyer_id or cart_items", ErrBadMetadata)
	}

	var items []CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}

	m := &CheckoutMetadata{BuyerID: buyerID, Items: items}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the envelope invariants.
func (m *CheckoutMetadata) Validate() error {
	if m.BuyerID == "" {
		return fmt.Errorf("%w: empty buyer_id", ErrBadMetadata)
	}
	if len(m.Items) == 0 {
		return fmt.Errorf("%w: empty cart", ErrBadMetadata)
	}
	for i, it := range m.Items {
		switch {
		case it.ProductID == "":
			return fmt.Errorf("%w: item %d has no product_id", ErrBadMetadata, i)
		case it.SellerID == "":
			return fmt.Errorf("%w: item %d has no seller_id", ErrBadMetadata, i)
		case !it.Price.IsPositive():
			return fmt.Errorf("%w: item %d has non-positive price", ErrBadMetadata, i)
		case it.Quantity <= 0:
			return fmt.Errorf("%w: item %d has non-positive quantity", ErrBadMetadata, i)
		}
	}
	return nil
}
