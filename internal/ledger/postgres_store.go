package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBalance retrieves a user's balance.
func (p *PostgresStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	bal := &Balance{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, total_in, total_out, updated_at
		FROM balances WHERE user_id = $1
	`, userID).Scan(&bal.Available, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{
			UserID:    userID,
			Available: decimal.Zero,
			TotalIn:   decimal.Zero,
			TotalOut:  decimal.Zero,
			UpdatedAt: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Credit adds funds to a user's balance.
func (p *PostgresStore) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Upsert balance using native NUMERIC arithmetic
	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(12,2), $2::NUMERIC(12,2), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available  = balances.available + $2::NUMERIC(12,2),
			total_in   = balances.total_in  + $2::NUMERIC(12,2),
			updated_at = NOW()
	`, userID, amount.StringFixed(2))
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'credit', $3::NUMERIC(12,2), $4, $5, NOW())
	`, idgen.New(), userID, amount.StringFixed(2), reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// Debit removes funds from a user's balance. The balance check happens in
// the UPDATE's WHERE clause, so a concurrent debit cannot overdraw; the
// CHECK constraint on available >= 0 is the schema-level backstop.
func (p *PostgresStore) Debit(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			available  = available - $2::NUMERIC(12,2),
			total_out  = total_out + $2::NUMERIC(12,2),
			updated_at = NOW()
		WHERE user_id = $1 AND available >= $2::NUMERIC(12,2)
	`, userID, amount.StringFixed(2))
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either no balance row or not enough funds; both read as zero cover.
		return ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'debit', $3::NUMERIC(12,2), $4, $5, NOW())
	`, idgen.New(), userID, amount.StringFixed(2), reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// GetHistory retrieves ledger entries for a user, newest first.
func (p *PostgresStore) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, reference, description, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference, description sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &reference, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
