// Package checkout builds payment sessions for a buyer's cart. It
// validates and snapshots the cart, then hands off to the payment
// gateway; no database writes happen here. The transaction record is
// created later, when the gateway confirms payment via webhook.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rmarchiori/gameswap/internal/catalog"
	"github.com/rmarchiori/gameswap/internal/gateway"
	"github.com/rmarchiori/gameswap/internal/security"
)

var (
	// ErrInvalidCart is returned for an empty cart or one referencing
	// unavailable products.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrOwnProduct is returned when a buyer tries to purchase their
	// own listing.
	ErrOwnProduct = errors.New("cannot purchase your own product")
	// ErrBadRedirect is returned when a caller-supplied redirect URL
	// fails the SSRF checks.
	ErrBadRedirect = errors.New("invalid redirect url")
)

// Line is one cart entry: a product and how many of it.
type Line struct {
	ProductID string
	Quantity  int
}

// Request describes one checkout. Items and ProductIDs may be combined;
// ProductIDs is the quantity-one shorthand. SuccessURL and CancelURL
// override the configured redirects when set; they must pass the
// endpoint checks.
type Request struct {
	Items      []Line
	ProductIDs []string
	SuccessURL string
	CancelURL  string
}

// lines normalizes both request forms into one cart.
func (r Request) lines() []Line {
	out := make([]Line, 0, len(r.Items)+len(r.ProductIDs))
	out = append(out, r.Items...)
	for _, id := range r.ProductIDs {
		out = append(out, Line{ProductID: id, Quantity: 1})
	}
	return out
}

// Builder turns a validated cart into a gateway checkout session.
type Builder struct {
	products catalog.Store
	gw       gateway.Gateway
	logger   *slog.Logger

	currency      string
	successURL    string
	cancelURL     string
	expiryMinutes int
}

// Config holds session parameters fixed at startup.
type Config struct {
	Currency      string
	SuccessURL    string
	CancelURL     string
	ExpiryMinutes int
}

// NewBuilder creates a checkout builder.
func NewBuilder(products catalog.Store, gw gateway.Gateway, cfg Config, logger *slog.Logger) *Builder {
	return &Builder{
		products:      products,
		gw:            gw,
		logger:        logger,
		currency:      cfg.Currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		expiryMinutes: cfg.ExpiryMinutes,
	}
}

// Build validates the cart against the live catalog, snapshots each
// product's current price and seller into the session metadata, and
// creates the gateway session. Products must be active and not the
// buyer's own. Prices in the envelope are authoritative for settlement
// even if the listing changes afterwards.
func (b *Builder) Build(ctx context.Context, buyerID string, req Request) (*gateway.Session, error) {
	cart := req.lines()
	if len(cart) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrInvalidCart)
	}

	successURL, cancelURL := b.successURL, b.cancelURL
	if req.SuccessURL != "" {
		if err := security.ValidateEndpointURL(req.SuccessURL); err != nil {
			return nil, fmt.Errorf("%w: success_url: %v", ErrBadRedirect, err)
		}
		successURL = req.SuccessURL
	}
	if req.CancelURL != "" {
		if err := security.ValidateEndpointURL(req.CancelURL); err != nil {
			return nil, fmt.Errorf("%w: cancel_url: %v", ErrBadRedirect, err)
		}
		cancelURL = req.CancelURL
	}

	seen := make(map[string]bool, len(cart))
	meta := gateway.CheckoutMetadata{BuyerID: buyerID}
	var lines []gateway.LineItem

	for _, line := range cart {
		id := line.ProductID
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate product %s", ErrInvalidCart, id)
		}
		seen[id] = true
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %s has quantity %d", ErrInvalidCart, id, line.Quantity)
		}

		p, err := b.products.Get(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: product %s not found", ErrInvalidCart, id)
			}
			return nil, err
		}
		if p.Status != catalog.StatusActive {
			return nil, fmt.Errorf("%w: product %s is not available", ErrInvalidCart, id)
		}
		if p.SellerID == buyerID {
			return nil, ErrOwnProduct
		}
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("%w: product %s has a non-positive price", ErrInvalidCart, id)
		}

		meta.Items = append(meta.Items, gateway.CartItem{
			ProductID: p.ID,
			SellerID:  p.SellerID,
			Title:     p.Title,
			Price:     p.Price,
			Quantity:  line.Quantity,
		})
		lines = append(lines, gateway.LineItem{
			Title:    p.Title,
			Price:    p.Price,
			Quantity: line.Quantity,
		})
	}

	sess, err := b.gw.CreateSession(ctx, gateway.SessionRequest{
		Items:         lines,
		Metadata:      meta,
		Currency:      b.currency,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		ExpiryMinutes: b.expiryMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("create session for buyer %s: %w", buyerID, err)
	}

	b.logger.Info("checkout session created", "session", sess.ID, "buyer", buyerID, "items", len(lines))
	return sess, nil
}
