package identity

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves a user by id.
func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, username, role, is_verified, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Role, &u.Verified, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
