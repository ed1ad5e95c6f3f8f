package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeGateway implements Gateway, Verifier, Transferrer and Refunder
// against the Stripe API. Transfers run behind a circuit breaker so a
// Stripe outage fails withdrawals fast instead of piling up timeouts.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	logger        *slog.Logger
	transferCB    *gobreaker.CircuitBreaker
}

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(apiKey, webhookSecret string, logger *slog.Logger) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "stripe-transfers",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
		logger:        logger,
		transferCB:    cb,
	}
}

// CreateSession creates a hosted checkout session. The metadata envelope
// is attached both to the session and to its payment intent so either
// class of webhook event can drive settlement.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	meta, err := req.Metadata.Encode()
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: meta,
		},
	}
	params.Context = ctx
	params.Metadata = meta

	if req.ExpiryMinutes > 0 {
		params.ExpiresAt = stripe.Int64(time.Now().Add(time.Duration(req.ExpiryMinutes) * time.Minute).Unix())
	}
	for _, it := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(it.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(toMinorUnits(it.Price)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Title),
				},
			},
		})
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// VerifyEvent authenticates a webhook delivery and reduces it to a
// normalized Event. Unknown event types come back as EventIgnored with
// a nil envelope.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch ev.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		meta, err := DecodeMetadata(sess.Metadata)
		if err != nil {
			return nil, err
		}
		ref := sess.ID
		if sess.PaymentIntent != nil {
			ref = sess.PaymentIntent.ID
		}
		// Async methods (boleto, some bank debits) complete the session
		// before the charge settles; those arrive as payment_pending and
		// are promoted by a later payment_intent.succeeded.
		kind := EventPaymentCompleted
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			kind = EventPaymentPending
		}
		return &Event{
			Kind:         kind,
			ProviderType: string(ev.Type),
			PaymentRef:   ref,
			Metadata:     meta,
		}, nil

	case "payment_intent.succeeded":
		pi, err := decodePaymentIntent(ev.Data.Raw)
		if err != nil {
			return nil, err
		}
		// Intents usually carry no envelope of their own; the session
		// event already delivered it. The reference alone is enough to
		// promote pending rows.
		meta, _ := DecodeMetadata(pi.Metadata)
		return &Event{
			Kind:         EventPaymentCompleted,
			ProviderType: string(ev.Type),
			PaymentRef:   pi.ID,
			Metadata:     meta,
		}, nil

	case "payment_intent.payment_failed":
		pi, err := decodePaymentIntent(ev.Data.Raw)
		if err != nil {
			return nil, err
		}
		// Failed intents may predate metadata attachment; settlement
		// only needs the reference to void any pending hold.
		meta, _ := DecodeMetadata(pi.Metadata)
		return &Event{
			Kind:         EventPaymentFailed,
			ProviderType: string(ev.Type),
			PaymentRef:   pi.ID,
			Metadata:     meta,
		}, nil

	default:
		return &Event{Kind: EventIgnored, ProviderType: string(ev.Type)}, nil
	}
}

// Transfer sends funds to a connected seller account and returns the
// provider transfer id.
func (g *StripeGateway) Transfer(ctx context.Context, destination string, amount decimal.Decimal, currency, reference string) (string, error) {
	out, err := g.transferCB.Execute(func() (interface{}, error) {
		params := &stripe.TransferParams{
			Amount:      stripe.Int64(toMinorUnits(amount)),
			Currency:    stripe.String(currency),
			Destination: stripe.String(destination),
		}
		params.Context = ctx
		params.AddMetadata("reference", reference)
		return g.api.Transfers.New(params)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return out.(*stripe.Transfer).ID, nil
}

// Refund returns amount of a captured payment to the buyer. Always a
// partial refund by amount: the payment may cover other transactions
// that stay settled.
func (g *StripeGateway) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(toMinorUnits(amount)),
	}
	params.Context = ctx
	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("refund %s: %w", paymentRef, err)
	}
	return nil
}

func decodePaymentIntent(raw json.RawMessage) (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return &pi, nil
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
