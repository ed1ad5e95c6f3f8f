package checkout

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/catalog"
	"github.com/rmarchiori/gameswap/internal/gateway"
)

type fakeGateway struct {
	lastReq gateway.SessionRequest
	err     error
}

func (f *fakeGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Session{ID: "cs_test", URL: "https://pay.example/cs_test"}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestBuilder(gw gateway.Gateway) (*Builder, *catalog.MemoryStore) {
	products := catalog.NewMemoryStore()
	products.Put(&catalog.Product{
		ID: "prod_1", SellerID: "seller-1", Title: "Steam Deck",
		Price: dec("100.00"), CommissionRate: dec("15"), Status: catalog.StatusActive,
	})
	products.Put(&catalog.Product{
		ID: "prod_sold", SellerID: "seller-1", Title: "PS5",
		Price: dec("250.00"), CommissionRate: dec("15"), Status: catalog.StatusSold,
	})
	cfg := Config{
		Currency:      "brl",
		SuccessURL:    "https://shop.example/success",
		CancelURL:     "https://shop.example/cancel",
		ExpiryMinutes: 30,
	}
	return NewBuilder(products, gw, cfg, slog.Default()), products
}

func TestBuilder_Build(t *testing.T) {
	gw := &fakeGateway{}
	b, _ := newTestBuilder(gw)

	sess, err := b.Build(context.Background(), "buyer-1", Request{ProductIDs: []string{"prod_1"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if sess.ID != "cs_test" {
		t.Errorf("session id = %s", sess.ID)
	}

	req := gw.lastReq
	if req.Metadata.BuyerID != "buyer-1" {
		t.Errorf("metadata buyer = %s", req.Metadata.BuyerID)
	}
	if len(req.Metadata.Items) != 1 || req.Metadata.Items[0].SellerID != "seller-1" {
		t.Errorf("metadata items = %+v", req.Metadata.Items)
	}
	if !req.Metadata.Items[0].Price.Equal(dec("100.00")) {
		t.Errorf("snapshot price = %s, want 100.00", req.Metadata.Items[0].Price)
	}
	if req.Currency != "brl" || req.ExpiryMinutes != 30 {
		t.Errorf("session config not forwarded: %+v", req)
	}
}

func TestBuilder_SnapshotSurvivesPriceChange(t *testing.T) {
	gw := &fakeGateway{}
	b, products := newTestBuilder(gw)

	if _, err := b.Build(context.Background(), "buyer-1", Request{ProductIDs: []string{"prod_1"}}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Seller edits after the session exists; the envelope keeps the old price.
	products.Put(&catalog.Product{
		ID: "prod_1", SellerID: "seller-1", Title: "Steam Deck",
		Price: dec("999.00"), CommissionRate: dec("15"), Status: catalog.StatusActive,
	})
	if !gw.lastReq.Metadata.Items[0].Price.Equal(dec("100.00")) {
		t.Errorf("snapshot price changed to %s", gw.lastReq.Metadata.Items[0].Price)
	}
}

func TestBuilder_Rejections(t *testing.T) {
	b, _ := newTestBuilder(&fakeGateway{})
	ctx := context.Background()

	cases := []struct {
		name    string
		buyer   string
		cart    []string
		wantErr error
	}{
		{"empty cart", "buyer-1", nil, ErrInvalidCart},
		{"unknown product", "buyer-1", []string{"nope"}, ErrInvalidCart},
		{"sold product", "buyer-1", []string{"prod_sold"}, ErrInvalidCart},
		{"duplicate item", "buyer-1", []string{"prod_1", "prod_1"}, ErrInvalidCart},
		{"own product", "seller-1", []string{"prod_1"}, ErrOwnProduct},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := b.Build(ctx, tc.buyer, Request{ProductIDs: tc.cart}); !errors.Is(err, tc.wantErr) {
				t.Errorf("Build = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestBuilder_RedirectOverrides(t *testing.T) {
	gw := &fakeGateway{}
	b, _ := newTestBuilder(gw)
	ctx := context.Background()

	_, err := b.Build(ctx, "buyer-1", Request{
		ProductIDs: []string{"prod_1"},
		SuccessURL: "https://app.example/done",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if gw.lastReq.SuccessURL != "https://app.example/done" {
		t.Errorf("success url = %s", gw.lastReq.SuccessURL)
	}
	if gw.lastReq.CancelURL != "https://shop.example/cancel" {
		t.Errorf("cancel url should fall back to config, got %s", gw.lastReq.CancelURL)
	}

	// Internal hosts are rejected before touching the gateway.
	_, err = b.Build(ctx, "buyer-1", Request{
		ProductIDs: []string{"prod_1"},
		SuccessURL: "http://169.254.169.254/latest/meta-data",
	})
	if !errors.Is(err, ErrBadRedirect) {
		t.Errorf("Build = %v, want ErrBadRedirect", err)
	}
}

func TestBuilder_GatewayErrorPropagates(t *testing.T) {
	gwErr := errors.New("stripe down")
	b, _ := newTestBuilder(&fakeGateway{err: gwErr})

	if _, err := b.Build(context.Background(), "buyer-1", Request{ProductIDs: []string{"prod_1"}}); !errors.Is(err, gwErr) {
		t.Errorf("Build = %v, want wrapped gateway error", err)
	}
}

func TestBuilder_Quantities(t *testing.T) {
	gw := &fakeGateway{}
	b, _ := newTestBuilder(gw)

	_, err := b.Build(context.Background(), "buyer-1",
		Request{Items: []Line{{ProductID: "prod_1", Quantity: 3}}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if q := gw.lastReq.Items[0].Quantity; q != 3 {
		t.Errorf("line quantity = %d, want 3", q)
	}
	if q := gw.lastReq.Metadata.Items[0].Quantity; q != 3 {
		t.Errorf("metadata quantity = %d, want 3", q)
	}

	_, err = b.Build(context.Background(), "buyer-1",
		Request{Items: []Line{{ProductID: "prod_1", Quantity: 0}}})
	if !errors.Is(err, ErrInvalidCart) {
		t.Errorf("zero quantity = %v, want ErrInvalidCart", err)
	}
	_, err = b.Build(context.Background(), "buyer-1",
		Request{Items: []Line{{ProductID: "prod_1", Quantity: -2}}})
	if !errors.Is(err, ErrInvalidCart) {
		t.Errorf("negative quantity = %v, want ErrInvalidCart", err)
	}
}
