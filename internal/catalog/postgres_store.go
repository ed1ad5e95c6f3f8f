package catalog

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed product store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves a product by id.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Product, error) {
	prod := &Product{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, price, commission_rate, status, created_at, updated_at
		FROM products WHERE id = $1
	`, id).Scan(&prod.ID, &prod.SellerID, &prod.Title, &prod.Price,
		&prod.CommissionRate, &prod.Status, &prod.CreatedAt, &prod.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return prod, nil
}

// SetStatus transitions product status with a compare-and-swap on the
// current value, so two concurrent settlements cannot both mark it sold.
func (p *PostgresStore) SetStatus(ctx context.Context, id string, from, to Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE products SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a missing row from a status mismatch.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrProductNotFound
		}
		return ErrNotAvailable
	}
	return nil
}
