package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists chats and messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed chat store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateChat(ctx context.Context, chat *Chat, seed []*Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chat create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, transaction_id, product_id, buyer_id, seller_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		chat.ID, chat.TransactionID, chat.ProductID, chat.BuyerID, chat.SellerID, chat.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	for _, m := range seed {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	return scanChat(s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, product_id, buyer_id, seller_id, created_at
		FROM chats WHERE id = $1`, id))
}

func (s *PostgresStore) GetChatByTransaction(ctx context.Context, txnID string) (*Chat, error) {
	return scanChat(s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, product_id, buyer_id, seller_id, created_at
		FROM chats WHERE transaction_id = $1`, txnID))
}

func (s *PostgresStore) AddMessage(ctx context.Context, msg *Message) error {
	return insertMessage(ctx, s.db, msg)
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, content, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, m *Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanChat(row *sql.Row) (*Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.TransactionID, &c.ProductID, &c.BuyerID, &c.SellerID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return &c, nil
}
