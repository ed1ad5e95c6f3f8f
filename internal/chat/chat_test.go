package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), slog.Default())
}

func TestService_OpenSeedsSystemMessage(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, err := svc.Open(ctx, "txn_1", "prod_1", "Steam Deck", "buyer", "seller")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, msgs, err := svc.Get(ctx, c.ID, "buyer")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 seed message", len(msgs))
	}
	if msgs[0].SenderID != SenderSystem {
		t.Errorf("seed sender = %s, want %s", msgs[0].SenderID, SenderSystem)
	}
	if !strings.Contains(msgs[0].Content, "Steam Deck") {
		t.Errorf("seed message should mention the product: %q", msgs[0].Content)
	}
}

func TestService_OpenIsIdempotentPerTransaction(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.Open(ctx, "txn_1", "prod_1", "Steam Deck", "buyer", "seller")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	second, err := svc.Open(ctx, "txn_1", "prod_1", "Steam Deck", "buyer", "seller")
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Open created a second chat for the same transaction: %s vs %s", first.ID, second.ID)
	}
}

func TestService_ParticipantAccess(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, _ := svc.Open(ctx, "txn_1", "prod_1", "Steam Deck", "buyer", "seller")

	if _, _, err := svc.Get(ctx, c.ID, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Get by stranger = %v, want ErrNotParticipant", err)
	}
	if _, err := svc.Post(ctx, c.ID, "stranger", "hello"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Post by stranger = %v, want ErrNotParticipant", err)
	}

	msg, err := svc.Post(ctx, c.ID, "seller", "Shipping tomorrow morning.")
	if err != nil {
		t.Fatalf("Post by seller failed: %v", err)
	}
	if msg.SenderID != "seller" {
		t.Errorf("sender = %s, want seller", msg.SenderID)
	}

	_, msgs, _ := svc.Get(ctx, c.ID, "seller")
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want seed + seller message", len(msgs))
	}
}

func TestService_PostValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, _ := svc.Open(ctx, "txn_1", "prod_1", "Steam Deck", "buyer", "seller")

	if _, err := svc.Post(ctx, c.ID, "buyer", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank message = %v, want ErrEmptyMessage", err)
	}
	if _, err := svc.Post(ctx, "missing", "buyer", "hi"); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("missing chat = %v, want ErrChatNotFound", err)
	}
}
