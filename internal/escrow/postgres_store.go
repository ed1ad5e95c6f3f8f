package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore persists transactions in PostgreSQL. The
// (payment_ref, product_id) UNIQUE constraint is the idempotency
// anchor: duplicate settlements surface as ErrDuplicateSettlement no
// matter how the webhook deliveries interleave.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSettlement(ctx context.Context, txns []*Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	for _, t := range txns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions
				(id, payment_ref, product_id, product_title, buyer_id, seller_id,
				 gross, fee, net, commission_rate, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			t.ID, t.PaymentRef, t.ProductID, t.ProductTitle, t.BuyerID, t.SellerID,
			t.Gross.StringFixed(2), t.Fee.StringFixed(2), t.Net.StringFixed(2),
			t.CommissionRate.String(), string(t.Status), t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
				return ErrDuplicateSettlement
			}
			return fmt.Errorf("insert transaction: %w", err)
		}

		// Money moved upstream; the listing leaves the catalog even if
		// its status drifted in the meantime.
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET status = 'sold', updated_at = NOW() WHERE id = $1`,
			t.ProductID,
		); err != nil {
			return fmt.Errorf("mark product sold: %w", err)
		}
	}
	return tx.Commit()
}

const txnColumns = `id, payment_ref, product_id, product_title, buyer_id, seller_id,
	gross, fee, net, commission_rate, status, dispute_reason, resolved_by,
	created_at, updated_at, completed_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (s *PostgresStore) ListByPaymentRef(ctx context.Context, ref string) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE payment_ref = $1 ORDER BY created_at ASC`, ref)
	if err != nil {
		return nil, fmt.Errorf("query by payment ref: %w", err)
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, side TradeSide, limit int) ([]*Transaction, error) {
	where := `buyer_id = $1 OR seller_id = $1`
	switch side {
	case SidePurchases:
		where = `buyer_id = $1`
	case SideSales:
		where = `seller_id = $1`
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE (`+where+`)
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query by user: %w", err)
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to Status, mut Mutation) error {
	if !canTransition(from, to) {
		return ErrInvalidTransition
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			status         = $3,
			dispute_reason = COALESCE(NULLIF($4, ''), dispute_reason),
			resolved_by    = COALESCE(NULLIF($5, ''), resolved_by),
			completed_at   = CASE WHEN $6 THEN NOW() ELSE completed_at END,
			updated_at     = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), mut.DisputeReason, mut.ResolvedBy, mut.Completed,
	)
	if err != nil {
		return fmt.Errorf("transition transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t                         Transaction
		gross, fee, net, rate     string
		status                    string
		disputeReason, resolvedBy sql.NullString
		completedAt               sql.NullTime
	)
	err := row.Scan(&t.ID, &t.PaymentRef, &t.ProductID, &t.ProductTitle, &t.BuyerID, &t.SellerID,
		&gross, &fee, &net, &rate, &status, &disputeReason, &resolvedBy,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if t.Gross, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("parse gross: %w", err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	if t.Net, err = decimal.NewFromString(net); err != nil {
		return nil, fmt.Errorf("parse net: %w", err)
	}
	if t.CommissionRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	t.Status = Status(status)
	t.DisputeReason = disputeReason.String
	t.ResolvedBy = resolvedBy.String
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}

func collectTransactions(rows *sql.Rows) ([]*Transaction, error) {
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
