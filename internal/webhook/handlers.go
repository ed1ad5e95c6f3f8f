// Package webhook ingests payment gateway event deliveries. The handler
// is deliberately thin: verify the signature, normalize the event, hand
// it to the settlement engine, and pick a status code that tells the
// gateway whether to redeliver.
//
// Status code contract:
//   - 400: bad signature or malformed payload; redelivery cannot help
//   - 500: processing failed; the gateway should redeliver
//   - 200: handled, or an event type this system ignores
//
// Settlement is idempotent, so redeliveries after a 500 are safe.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rmarchiori/gameswap/internal/escrow"
	"github.com/rmarchiori/gameswap/internal/gateway"
	"github.com/rmarchiori/gameswap/internal/logging"
	"github.com/rmarchiori/gameswap/internal/metrics"
	"github.com/rmarchiori/gameswap/internal/traces"
)

// Settler is the slice of the settlement engine the ingestor drives.
type Settler interface {
	Settle(ctx context.Context, paymentRef string, meta *gateway.CheckoutMetadata, captured bool) ([]*escrow.Transaction, error)
	ConfirmPayment(ctx context.Context, paymentRef string) error
	FailPayment(ctx context.Context, paymentRef string) error
}

// Handler receives gateway webhook deliveries.
type Handler struct {
	verifier gateway.Verifier
	settler  Settler
}

// NewHandler creates a webhook handler.
func NewHandler(verifier gateway.Verifier, settler Settler) *Handler {
	return &Handler{verifier: verifier, settler: settler}
}

// RegisterRoutes sets up the unauthenticated webhook route. The
// signature check is the authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Receive)
}

// Receive handles POST /v1/webhooks/stripe.
func (h *Handler) Receive(c *gin.Context) {
	logger := logging.L(c.Request.Context())

	payload, err := c.GetRawData()
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	ev, err := h.verifier.VerifyEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidSignature):
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
			logger.Warn("webhook signature rejected", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		case errors.Is(err, gateway.ErrBadMetadata):
			// A payload we signed off on but cannot act on. Redelivery
			// would carry the same metadata, so don't ask for one.
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_metadata").Inc()
			logger.Error("webhook carried unusable metadata", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_metadata"})
		default:
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "decode_error").Inc()
			logger.Error("webhook decode failed", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		}
		return
	}

	ctx := logging.WithPaymentRef(c.Request.Context(), ev.PaymentRef)
	ctx, span := traces.StartSpan(ctx, "webhook.process",
		traces.EventType(ev.ProviderType), traces.PaymentRef(ev.PaymentRef))
	defer span.End()

	if err := h.process(ctx, ev); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(ev.ProviderType, "error").Inc()
		logging.L(ctx).Error("webhook processing failed", "type", ev.ProviderType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed"})
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(ev.ProviderType, "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) process(ctx context.Context, ev *gateway.Event) error {
	logger := logging.L(ctx)

	switch ev.Kind {
	case gateway.EventPaymentCompleted:
		if ev.Metadata != nil {
			_, err := h.settler.Settle(ctx, ev.PaymentRef, ev.Metadata, true)
			return err
		}
		// payment_intent events arriving after the session event carry
		// no envelope; they only promote what the session created.
		return h.settler.ConfirmPayment(ctx, ev.PaymentRef)

	case gateway.EventPaymentPending:
		if ev.Metadata == nil {
			logger.Warn("pending payment event without metadata ignored")
			return nil
		}
		_, err := h.settler.Settle(ctx, ev.PaymentRef, ev.Metadata, false)
		return err

	case gateway.EventPaymentFailed:
		return h.settler.FailPayment(ctx, ev.PaymentRef)

	default:
		logger.Debug("webhook event ignored", "type", ev.ProviderType)
		return nil
	}
}
