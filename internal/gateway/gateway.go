// Package gateway abstracts the external payment provider. The rest of
// the system speaks in terms of checkout sessions, normalized webhook
// events, transfers and refunds; Stripe specifics stay behind the
// interfaces defined here.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails
	// signature verification.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrTransferFailed wraps provider-side transfer failures.
	ErrTransferFailed = errors.New("gateway transfer failed")
)

// SessionRequest describes a checkout session to be created upstream.
type SessionRequest struct {
	Items         []LineItem
	Metadata      CheckoutMetadata
	Currency      string
	SuccessURL    string
	CancelURL     string
	ExpiryMinutes int
}

// LineItem is a single product line in a checkout session.
type LineItem struct {
	Title    string
	Price    decimal.Decimal
	Quantity int
}

// Session is a created checkout session the buyer is redirected to.
type Session struct {
	ID  string
	URL string
}

// EventKind is the normalized classification of a provider webhook event.
type EventKind string

const (
	// EventPaymentCompleted means funds were captured for a checkout.
	EventPaymentCompleted EventKind = "payment_completed"
	// EventPaymentPending means checkout finished but capture is still
	// processing, as with asynchronous payment methods.
	EventPaymentPending EventKind = "payment_pending"
	// EventPaymentFailed means the payment attempt failed upstream.
	EventPaymentFailed EventKind = "payment_failed"
	// EventIgnored is any provider event this system does not act on.
	EventIgnored EventKind = "ignored"
)

// Event is a provider webhook event reduced to what settlement needs.
type Event struct {
	Kind EventKind
	// ProviderType is the raw provider event name, kept for logs and metrics.
	ProviderType string
	// PaymentRef is the provider payment reference tied to the charge.
	// It is the idempotency anchor for settlement.
	PaymentRef string
	// Metadata is the checkout envelope round-tripped through the
	// provider, nil when the event carried none.
	Metadata *CheckoutMetadata
}

// Gateway creates checkout sessions with the payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// Verifier authenticates and normalizes raw webhook deliveries.
type Verifier interface {
	VerifyEvent(payload []byte, signature string) (*Event, error)
}

// Transferrer moves settled funds out to a seller account.
type Transferrer interface {
	Transfer(ctx context.Context, destination string, amount decimal.Decimal, currency, reference string) (string, error)
}

// Refunder returns part of a captured payment to the buyer. The amount
// matters: one payment can cover several transactions, and refunding a
// single disputed one must not touch the others' share.
type Refunder interface {
	Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error
}
