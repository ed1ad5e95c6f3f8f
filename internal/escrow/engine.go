package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/catalog"
	"github.com/rmarchiori/gameswap/internal/chat"
	"github.com/rmarchiori/gameswap/internal/gateway"
	"github.com/rmarchiori/gameswap/internal/idgen"
	"github.com/rmarchiori/gameswap/internal/metrics"
	"github.com/rmarchiori/gameswap/internal/notify"
	"github.com/rmarchiori/gameswap/internal/syncutil"
)

// ErrReasonRequired is returned when a dispute is opened without a reason.
var ErrReasonRequired = errors.New("dispute reason is required")

// Resolution outcomes an admin can pick for a disputed transaction.
const (
	ResolutionRelease = "release"
	ResolutionRefund  = "refund"
)

// BalanceLedger is the slice of the ledger the engine needs. Credits
// happen exactly once per completed transaction; the engine's CAS
// transition is what guarantees the exactly-once.
type BalanceLedger interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error
}

// Engine drives transactions through the state machine and owns every
// balance-affecting side effect.
type Engine struct {
	store    Store
	balances BalanceLedger
	products catalog.Store
	refunder gateway.Refunder
	chats    *chat.Service
	notifier *notify.Notifier
	logger   *slog.Logger
	locks    syncutil.ShardedMutex
}

// NewEngine creates a settlement engine.
func NewEngine(store Store, balances BalanceLedger, products catalog.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		balances: balances,
		products: products,
		logger:   logger,
	}
}

// WithRefunder adds the gateway refund client used on dispute refunds.
func (e *Engine) WithRefunder(r gateway.Refunder) *Engine {
	e.refunder = r
	return e
}

// WithChats adds the fulfillment channel service.
func (e *Engine) WithChats(c *chat.Service) *Engine {
	e.chats = c
	return e
}

// WithNotifier adds the inbox notifier.
func (e *Engine) WithNotifier(n *notify.Notifier) *Engine {
	e.notifier = n
	return e
}

// Settle records the settlement for a confirmed checkout: one
// transaction per cart item, each product flipped to sold in the same
// write as its row. captured=false records the settlement as pending
// until the charge clears.
//
// Lines settle independently. A line that cannot settle (product gone,
// insert failed) is collected into the returned error without blocking
// its siblings; the gateway redelivers on the error and already-settled
// lines replay harmlessly.
//
// Settle is idempotent on (payment ref, product): a webhook redelivery
// finds the existing rows and returns them unchanged, except that a
// captured redelivery still promotes rows a pending delivery created
// first.
func (e *Engine) Settle(ctx context.Context, paymentRef string, meta *gateway.CheckoutMetadata, captured bool) ([]*Transaction, error) {
	unlock := e.locks.Lock(paymentRef)
	defer unlock()

	initial := StatusPending
	if captured {
		initial = StatusEscrow
	}

	now := time.Now()
	var (
		lineErrs []error
		created  int
		replayed int
	)
	for _, item := range meta.Items {
		rate, err := e.commissionRate(ctx, item.ProductID)
		if err != nil {
			e.logger.Error("settlement line skipped", "payment_ref", paymentRef, "product", item.ProductID, "error", err)
			metrics.SettlementsTotal.WithLabelValues("line_error").Inc()
			lineErrs = append(lineErrs, err)
			continue
		}
		gross := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		fee := gross.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)

		t := &Transaction{
			ID:             idgen.WithPrefix("txn_"),
			PaymentRef:     paymentRef,
			ProductID:      item.ProductID,
			ProductTitle:   item.Title,
			BuyerID:        meta.BuyerID,
			SellerID:       item.SellerID,
			Gross:          gross,
			Fee:            fee,
			Net:            gross.Sub(fee),
			CommissionRate: rate,
			Status:         initial,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		err = e.store.CreateSettlement(ctx, []*Transaction{t})
		switch {
		case errors.Is(err, ErrDuplicateSettlement):
			replayed++
		case err != nil:
			e.logger.Error("settlement line failed", "payment_ref", paymentRef, "product", item.ProductID, "error", err)
			metrics.SettlementsTotal.WithLabelValues("line_error").Inc()
			lineErrs = append(lineErrs, fmt.Errorf("settle product %s: %w", item.ProductID, err))
		default:
			created++
			if captured {
				metrics.TransactionTransitionsTotal.WithLabelValues(string(StatusEscrow)).Inc()
				e.announceEscrow(ctx, t)
			}
		}
	}

	if created > 0 {
		metrics.SettlementsTotal.WithLabelValues("created").Inc()
		e.logger.Info("settlement created", "payment_ref", paymentRef, "transactions", created, "captured", captured)
	}
	if replayed > 0 {
		metrics.SettlementsTotal.WithLabelValues("replayed").Inc()
		e.logger.Info("settlement replayed", "payment_ref", paymentRef, "transactions", replayed)
		if captured {
			if err := e.promotePending(ctx, paymentRef); err != nil {
				lineErrs = append(lineErrs, err)
			}
		}
	}

	txns, err := e.store.ListByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	return txns, errors.Join(lineErrs...)
}

// ConfirmPayment promotes a settlement's pending transactions to escrow
// once the charge clears. Rows already in escrow or beyond are left
// alone, so redeliveries are harmless.
func (e *Engine) ConfirmPayment(ctx context.Context, paymentRef string) error {
	unlock := e.locks.Lock(paymentRef)
	defer unlock()
	return e.promotePending(ctx, paymentRef)
}

func (e *Engine) promotePending(ctx context.Context, paymentRef string) error {
	txns, err := e.store.ListByPaymentRef(ctx, paymentRef)
	if err != nil {
		return err
	}
	for _, t := range txns {
		if t.Status != StatusPending {
			continue
		}
		err := e.store.Transition(ctx, t.ID, StatusPending, StatusEscrow, Mutation{})
		if errors.Is(err, ErrInvalidTransition) {
			continue // concurrent promotion won
		}
		if err != nil {
			return fmt.Errorf("promote transaction %s: %w", t.ID, err)
		}
		metrics.TransactionTransitionsTotal.WithLabelValues(string(StatusEscrow)).Inc()
		e.announceEscrow(ctx, t)
	}
	return nil
}

// FailPayment voids a settlement whose charge failed upstream: pending
// and escrow rows are refunded and their products returned to the
// catalog. The provider already reversed whatever it captured, so no
// refund call goes out; rows past escrow keep whatever happened to
// them.
func (e *Engine) FailPayment(ctx context.Context, paymentRef string) error {
	unlock := e.locks.Lock(paymentRef)
	defer unlock()

	txns, err := e.store.ListByPaymentRef(ctx, paymentRef)
	if err != nil {
		return err
	}
	for _, t := range txns {
		if t.Status != StatusPending && t.Status != StatusEscrow {
			continue
		}
		err := e.store.Transition(ctx, t.ID, t.Status, StatusRefunded, Mutation{})
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return fmt.Errorf("void transaction %s: %w", t.ID, err)
		}
		metrics.TransactionTransitionsTotal.WithLabelValues(string(StatusRefunded)).Inc()

		if err := e.products.SetStatus(ctx, t.ProductID, catalog.StatusSold, catalog.StatusActive); err != nil {
			e.logger.Warn("product not reactivated after failed payment", "product", t.ProductID, "error", err)
		}
		e.logger.Info("settlement voided", "transaction", t.ID, "payment_ref", paymentRef)
	}
	return nil
}

// Complete releases an escrowed transaction: the buyer confirms
// delivery, the seller is credited the net amount. Only the buyer may
// call this.
func (e *Engine) Complete(ctx context.Context, id, callerID string) (*Transaction, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != t.BuyerID {
		return nil, ErrUnauthorized
	}

	if err := e.store.Transition(ctx, id, StatusEscrow, StatusCompleted, Mutation{Completed: true}); err != nil {
		return nil, err
	}
	metrics.TransactionTransitionsTotal.WithLabelValues(string(StatusCompleted)).Inc()

	e.creditSeller(ctx, t, "delivery confirmed")

	if e.notifier != nil {
		e.notifier.PaymentReleased(ctx, t.SellerID, t.Net, t.ID)
		e.notifier.PurchaseCompleted(ctx, t.BuyerID, t.ID)
	}
	e.postSystemMessage(ctx, t, "Delivery confirmed. Payment was released to the seller.")

	return e.store.Get(ctx, id)
}

// Dispute freezes an escrowed transaction until an admin resolves it.
// Either party may open a dispute; a reason is mandatory.
func (e *Engine) Dispute(ctx context.Context, id, callerID, reason string) (*Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.HasParty(callerID) {
		return nil, ErrUnauthorized
	}

	if err := e.store.Transition(ctx, id, StatusEscrow, StatusDisputed, Mutation{DisputeReason: reason}); err != nil {
		return nil, err
	}
	metrics.TransactionTransitionsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	e.logger.Info("dispute opened", "transaction", id, "by", callerID)

	if e.notifier != nil {
		other := t.SellerID
		if callerID == t.SellerID {
			other = t.BuyerID
		}
		e.notifier.DisputeOpened(ctx, other, reason, t.ID)
	}
	e.postSystemMessage(ctx, t, fmt.Sprintf("A dispute was opened: %s. An admin will review this transaction.", reason))

	return e.store.Get(ctx, id)
}

// Resolve closes a disputed transaction by admin decision. "release"
// completes it and credits the seller; "refund" returns the payment to
// the buyer through the gateway.
func (e *Engine) Resolve(ctx context.Context, id, adminID, outcome string) (*Transaction, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusDisputed {
		return nil, ErrNotDisputed
	}

	switch outcome {
	case ResolutionRelease:
		if err := e.store.Transition(ctx, id, StatusDisputed, StatusCompleted, Mutation{ResolvedBy: adminID, Completed: true}); err != nil {
			return nil, err
		}
		metrics.TransactionTransitionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
		e.creditSeller(ctx, t, "dispute resolved in seller's favor")
		if e.notifier != nil {
			e.notifier.DisputeResolved(ctx, t.SellerID, "payment released to you", t.ID)
			e.notifier.DisputeResolved(ctx, t.BuyerID, "payment released to the seller", t.ID)
		}
		e.postSystemMessage(ctx, t, "Dispute resolved: payment released to the seller.")

	case ResolutionRefund:
		if err := e.store.Transition(ctx, id, StatusDisputed, StatusRefunded, Mutation{ResolvedBy: adminID}); err != nil {
			return nil, err
		}
		metrics.TransactionTransitionsTotal.WithLabelValues(string(StatusRefunded)).Inc()
		e.refundBuyer(ctx, t)
		if e.notifier != nil {
			e.notifier.Refunded(ctx, t.BuyerID, t.Gross, t.ID)
			e.notifier.DisputeResolved(ctx, t.SellerID, "payment refunded to the buyer", t.ID)
		}
		e.postSystemMessage(ctx, t, "Dispute resolved: payment refunded to the buyer.")

	default:
		return nil, fmt.Errorf("unknown resolution %q", outcome)
	}

	e.logger.Info("dispute resolved", "transaction", id, "outcome", outcome, "admin", adminID)
	return e.store.Get(ctx, id)
}

// Get returns a transaction visible to the caller. Non-admins only see
// transactions they are a party of.
func (e *Engine) Get(ctx context.Context, id, callerID string, isAdmin bool) (*Transaction, error) {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !t.HasParty(callerID) {
		return nil, ErrUnauthorized
	}
	return t, nil
}

// ListForUser returns the caller's transactions on one side of the
// trade, newest first.
func (e *Engine) ListForUser(ctx context.Context, userID string, side TradeSide, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if side == "" {
		side = SideAll
	}
	return e.store.ListByUser(ctx, userID, side, limit)
}

// ListByStatus returns the admin review queue for a status, oldest
// first.
func (e *Engine) ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListByStatus(ctx, status, limit)
}

// creditSeller credits the net amount after the transition already won.
// The money MUST follow the state change here: a failed credit after a
// won CAS means the seller was not paid for a completed transaction, so
// retry once and escalate loudly instead of reversing the transition.
func (e *Engine) creditSeller(ctx context.Context, t *Transaction, desc string) {
	err := e.balances.Credit(ctx, t.SellerID, t.Net, t.ID, desc)
	if err != nil {
		if retryErr := e.balances.Credit(ctx, t.SellerID, t.Net, t.ID, desc); retryErr != nil {
			e.logger.Error("CRITICAL: transaction completed but seller credit failed, manual resolution required",
				"transaction", t.ID, "seller", t.SellerID, "net", t.Net.StringFixed(2), "error", retryErr)
			return
		}
	}
	if e.notifier == nil {
		e.logger.Info("seller credited", "transaction", t.ID, "seller", t.SellerID, "net", t.Net.StringFixed(2))
	}
}

// refundBuyer pushes the gateway refund after the transition already
// won. The refund is for this transaction's gross only: sibling cart
// lines on the same payment keep their share. Same discipline as
// creditSeller: retry once, then escalate.
func (e *Engine) refundBuyer(ctx context.Context, t *Transaction) {
	if e.refunder == nil {
		e.logger.Warn("no refunder configured, refund must be issued manually", "transaction", t.ID)
		return
	}
	err := e.refunder.Refund(ctx, t.PaymentRef, t.Gross)
	if err != nil {
		if retryErr := e.refunder.Refund(ctx, t.PaymentRef, t.Gross); retryErr != nil {
			e.logger.Error("CRITICAL: transaction refunded but gateway refund failed, manual resolution required",
				"transaction", t.ID, "payment_ref", t.PaymentRef, "error", retryErr)
		}
	}
}

// announceEscrow runs the entering-escrow side effects: fulfillment
// chat and both parties' notifications. All best-effort.
func (e *Engine) announceEscrow(ctx context.Context, t *Transaction) {
	if e.chats != nil {
		if _, err := e.chats.Open(ctx, t.ID, t.ProductID, t.ProductTitle, t.BuyerID, t.SellerID); err != nil {
			e.logger.Warn("chat not opened for settlement", "transaction", t.ID, "error", err)
		}
	}
	if e.notifier != nil {
		e.notifier.SaleInEscrow(ctx, t.SellerID, t.ProductTitle, t.Net, t.ID)
		e.notifier.PurchaseInEscrow(ctx, t.BuyerID, t.ProductTitle, t.ID)
	}
}

func (e *Engine) postSystemMessage(ctx context.Context, t *Transaction, content string) {
	if e.chats == nil {
		return
	}
	c, err := e.chats.GetByTransaction(ctx, t.ID)
	if err != nil {
		return
	}
	if err := e.chats.PostSystem(ctx, c.ID, content); err != nil {
		e.logger.Warn("system chat message not posted", "transaction", t.ID, "error", err)
	}
}

func (e *Engine) commissionRate(ctx context.Context, productID string) (decimal.Decimal, error) {
	p, err := e.products.Get(ctx, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load product %s: %w", productID, err)
	}
	return p.CommissionRate, nil
}
