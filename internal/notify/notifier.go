package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/idgen"
	"github.com/rmarchiori/gameswap/internal/metrics"
)

// Pusher delivers a notification to a connected client in real time.
// Delivery is best-effort; offline users read the inbox later.
type Pusher interface {
	Push(userID string, n *Notification)
}

// Notifier writes inbox notifications and optionally pushes them live.
// All methods are fire-and-forget: errors are logged but never returned.
type Notifier struct {
	store  Store
	pusher Pusher
	logger *slog.Logger
}

// New creates a new notifier.
func New(store Store, logger *slog.Logger) *Notifier {
	return &Notifier{store: store, logger: logger}
}

// WithPusher adds a realtime push sink.
func (n *Notifier) WithPusher(p Pusher) *Notifier {
	n.pusher = p
	return n
}

func (n *Notifier) emit(ctx context.Context, userID string, typ Type, content, actionURL string) {
	if n == nil || n.store == nil {
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(typ)).Inc()

	item := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		UserID:    userID,
		Content:   content,
		Type:      typ,
		ActionURL: actionURL,
		CreatedAt: time.Now(),
	}

	// Detach from the request context: the financial write has already
	// committed and a cancelled request must not lose the inbox record.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := n.store.Create(writeCtx, item); err != nil {
		n.logger.Warn("notification write failed", "user", userID, "type", typ, "error", err)
		return
	}
	if n.pusher != nil {
		n.pusher.Push(userID, item)
	}
}

// --- Settlement events ---

// SaleInEscrow notifies a seller that a sale settled into escrow.
func (n *Notifier) SaleInEscrow(ctx context.Context, sellerID, productTitle string, net decimal.Decimal, txnID string) {
	n.emit(ctx, sellerID, TypeSale,
		fmt.Sprintf("New sale! %q sold for a net of %s, pending escrow release.", productTitle, net.StringFixed(2)),
		"/transaction/"+txnID)
}

// PurchaseInEscrow notifies a buyer that payment was captured into escrow.
func (n *Notifier) PurchaseInEscrow(ctx context.Context, buyerID, productTitle, txnID string) {
	n.emit(ctx, buyerID, TypePurchase,
		fmt.Sprintf("Purchase confirmed! %q is in escrow until you confirm delivery.", productTitle),
		"/transaction/"+txnID)
}

// --- Completion events ---

// PaymentReleased notifies a seller that escrowed funds were credited.
func (n *Notifier) PaymentReleased(ctx context.Context, sellerID string, net decimal.Decimal, txnID string) {
	n.emit(ctx, sellerID, TypeSale,
		fmt.Sprintf("Payment released! %s added to your balance.", net.StringFixed(2)),
		"/transaction/"+txnID)
}

// PurchaseCompleted notifies a buyer that the transaction closed.
func (n *Notifier) PurchaseCompleted(ctx context.Context, buyerID, txnID string) {
	n.emit(ctx, buyerID, TypePurchase,
		"Transaction complete! Payment was released to the seller.",
		"/transaction/"+txnID)
}

// Refunded notifies a buyer that a payment was refunded.
func (n *Notifier) Refunded(ctx context.Context, buyerID string, gross decimal.Decimal, txnID string) {
	n.emit(ctx, buyerID, TypePurchase,
		fmt.Sprintf("Refund issued: %s will be returned to your payment method.", gross.StringFixed(2)),
		"/transaction/"+txnID)
}

// --- Dispute events ---

// DisputeOpened notifies the other party that a transaction was disputed.
func (n *Notifier) DisputeOpened(ctx context.Context, userID, reason, txnID string) {
	n.emit(ctx, userID, TypeDispute,
		fmt.Sprintf("A dispute was opened on one of your transactions: %s", reason),
		"/transaction/"+txnID)
}

// DisputeResolved notifies a party of the admin decision.
func (n *Notifier) DisputeResolved(ctx context.Context, userID, outcome, txnID string) {
	n.emit(ctx, userID, TypeDispute,
		fmt.Sprintf("Dispute resolved: %s.", outcome),
		"/transaction/"+txnID)
}

// --- Withdrawal events ---

// WithdrawalRequested confirms a withdrawal request was received.
func (n *Notifier) WithdrawalRequested(ctx context.Context, userID string, amount decimal.Decimal) {
	n.emit(ctx, userID, TypeWithdrawal,
		fmt.Sprintf("Withdrawal request of %s received. Awaiting approval.", amount.StringFixed(2)), "")
}

// WithdrawalApproved tells the user money is on the way.
func (n *Notifier) WithdrawalApproved(ctx context.Context, userID string, amount decimal.Decimal) {
	n.emit(ctx, userID, TypeWithdrawal,
		fmt.Sprintf("Withdrawal of %s approved and sent.", amount.StringFixed(2)), "")
}

// WithdrawalRejected tells the user the request was declined.
func (n *Notifier) WithdrawalRejected(ctx context.Context, userID string, amount decimal.Decimal) {
	n.emit(ctx, userID, TypeWithdrawal,
		fmt.Sprintf("Withdrawal of %s was rejected.", amount.StringFixed(2)), "")
}

// TransferFailed records an operator-visible failure of the external payout.
func (n *Notifier) TransferFailed(ctx context.Context, adminID, withdrawalID string, cause error) {
	n.emit(ctx, adminID, TypeSystem,
		fmt.Sprintf("External transfer for withdrawal %s failed: %v. Withdrawal left pending.", withdrawalID, cause), "")
}
