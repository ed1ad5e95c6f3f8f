package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore persists withdrawals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed withdrawal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, w *Withdrawal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawals
			(id, user_id, amount, method, destination, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.UserID, w.Amount.StringFixed(2), string(w.Method), w.Destination,
		string(w.Status), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

const wdColumns = `id, user_id, amount, method, destination, status,
	transfer_id, processed_by, created_at, updated_at, processed_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Withdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx,
		`SELECT `+wdColumns+` FROM withdrawals WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	return w, err
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+wdColumns+` FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	return collectWithdrawals(rows)
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+wdColumns+` FROM withdrawals
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending withdrawals: %w", err)
	}
	return collectWithdrawals(rows)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, id string, to Status, transferID, adminID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE withdrawals SET
			status       = $2,
			transfer_id  = NULLIF($3, ''),
			processed_by = $4,
			processed_at = NOW(),
			updated_at   = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, string(to), transferID, adminID,
	)
	if err != nil {
		return fmt.Errorf("mark withdrawal processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM withdrawals WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrWithdrawalNotFound
		}
		return ErrAlreadyProcessed
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (*Withdrawal, error) {
	var (
		w                       Withdrawal
		amount, method, status  string
		transferID, processedBy sql.NullString
		processedAt             sql.NullTime
	)
	err := row.Scan(&w.ID, &w.UserID, &amount, &method, &w.Destination, &status,
		&transferID, &processedBy, &w.CreatedAt, &w.UpdatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	w.Method = Method(method)
	w.Status = Status(status)
	w.TransferID = transferID.String
	w.ProcessedBy = processedBy.String
	if processedAt.Valid {
		ts := processedAt.Time
		w.ProcessedAt = &ts
	}
	return &w, nil
}

func collectWithdrawals(rows *sql.Rows) ([]*Withdrawal, error) {
	defer rows.Close()
	var out []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
