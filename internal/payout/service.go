package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/gateway"
	"github.com/rmarchiori/gameswap/internal/identity"
	"github.com/rmarchiori/gameswap/internal/idgen"
	"github.com/rmarchiori/gameswap/internal/ledger"
	"github.com/rmarchiori/gameswap/internal/metrics"
	"github.com/rmarchiori/gameswap/internal/notify"
	"github.com/rmarchiori/gameswap/internal/syncutil"
)

// Service implements the withdrawal flow.
type Service struct {
	store       Store
	balances    *ledger.Ledger
	users       identity.Store
	transferrer gateway.Transferrer
	notifier    *notify.Notifier
	logger      *slog.Logger
	currency    string
	locks       syncutil.ShardedMutex
}

// NewService creates a payout service.
func NewService(store Store, balances *ledger.Ledger, users identity.Store, transferrer gateway.Transferrer, currency string, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		balances:    balances,
		users:       users,
		transferrer: transferrer,
		logger:      logger,
		currency:    currency,
	}
}

// WithNotifier adds the inbox notifier.
func (s *Service) WithNotifier(n *notify.Notifier) *Service {
	s.notifier = n
	return s
}

// Request files a withdrawal for admin review. The balance must cover
// the amount now, but nothing is debited yet; the authoritative check
// happens again at approval.
func (s *Service) Request(ctx context.Context, userID string, amount decimal.Decimal, method Method, destination string) (*Withdrawal, error) {
	if method != MethodPix && method != MethodBankTransfer {
		return nil, ErrInvalidMethod
	}
	if destination == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrInvalidMethod)
	}
	if amount.LessThan(MinAmount) {
		return nil, ErrBelowMinimum
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Verified {
		return nil, ErrUnverifiedAccount
	}

	ok, err := s.balances.CanCover(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledger.ErrInsufficientBalance
	}

	now := time.Now()
	w := &Withdrawal{
		ID:          idgen.WithPrefix("wd_"),
		UserID:      userID,
		Amount:      amount,
		Method:      method,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	s.logger.Info("withdrawal requested", "withdrawal", w.ID, "user", userID, "amount", amount.StringFixed(2))
	if s.notifier != nil {
		s.notifier.WithdrawalRequested(ctx, userID, amount)
	}
	return w, nil
}

// Approve executes a pending withdrawal: re-check the balance, send the
// external transfer, then debit. A failed transfer leaves the
// withdrawal pending so the admin can retry once the gateway recovers.
//
// The lock is per user, not per withdrawal: two approvals for the same
// seller contend for the same balance, and only the CanCover re-check
// under the lock keeps the second one from overdrawing.
func (s *Service) Approve(ctx context.Context, id, adminID string) (*Withdrawal, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(w.UserID)
	defer unlock()

	// Re-read under the lock; a concurrent approval may have won.
	w, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	ok, err := s.balances.CanCover(ctx, w.UserID, w.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Balance shrank since the request (other withdrawals, refunds).
		return nil, ledger.ErrInsufficientBalance
	}

	transferID, err := s.transferrer.Transfer(ctx, w.Destination, w.Amount, s.currency, w.ID)
	if err != nil {
		s.logger.Error("withdrawal transfer failed, left pending", "withdrawal", w.ID, "error", err)
		metrics.PayoutsTotal.WithLabelValues("transfer_failed").Inc()
		if s.notifier != nil {
			s.notifier.TransferFailed(ctx, adminID, w.ID, err)
		}
		return nil, err
	}

	// The money is out the door: the debit MUST land. Retry once; if it
	// still fails, the withdrawal stays pending and is escalated for
	// manual reconciliation against the transfer id. It must NOT read
	// as approved with the balance untouched.
	err = s.balances.Debit(ctx, w.UserID, w.Amount, w.ID, "withdrawal approved")
	if err != nil {
		if retryErr := s.balances.Debit(ctx, w.UserID, w.Amount, w.ID, "withdrawal approved"); retryErr != nil {
			s.logger.Error("CRITICAL: transfer sent but balance debit failed, do not re-approve, manual resolution required",
				"withdrawal", w.ID, "user", w.UserID, "amount", w.Amount.StringFixed(2), "transfer", transferID, "error", retryErr)
			metrics.PayoutsTotal.WithLabelValues("debit_failed").Inc()
			if s.notifier != nil {
				s.notifier.TransferFailed(ctx, adminID, w.ID, retryErr)
			}
			return nil, fmt.Errorf("transfer %s sent but debit failed: %w", transferID, retryErr)
		}
	}

	if err := s.store.MarkProcessed(ctx, id, StatusApproved, transferID, adminID); err != nil {
		s.logger.Error("CRITICAL: withdrawal paid but status update failed",
			"withdrawal", w.ID, "transfer", transferID, "error", err)
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("approved").Inc()
	s.logger.Info("withdrawal approved", "withdrawal", w.ID, "transfer", transferID, "admin", adminID)
	if s.notifier != nil {
		s.notifier.WithdrawalApproved(ctx, w.UserID, w.Amount)
	}
	return s.store.Get(ctx, id)
}

// Reject declines a pending withdrawal. The balance was never touched.
func (s *Service) Reject(ctx context.Context, id, adminID string) (*Withdrawal, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(w.UserID)
	defer unlock()

	w, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	if err := s.store.MarkProcessed(ctx, id, StatusRejected, "", adminID); err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("rejected").Inc()
	s.logger.Info("withdrawal rejected", "withdrawal", w.ID, "admin", adminID)
	if s.notifier != nil {
		s.notifier.WithdrawalRejected(ctx, w.UserID, w.Amount)
	}
	return s.store.Get(ctx, id)
}

// ListForUser returns the caller's withdrawals, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]*Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// PendingQueue returns the admin review queue, oldest first.
func (s *Service) PendingQueue(ctx context.Context, limit int) ([]*Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListPending(ctx, limit)
}
