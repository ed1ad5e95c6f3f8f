package escrow

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/catalog"
	"github.com/rmarchiori/gameswap/internal/chat"
	"github.com/rmarchiori/gameswap/internal/gateway"
	"github.com/rmarchiori/gameswap/internal/ledger"
	"github.com/rmarchiori/gameswap/internal/notify"
)

type refundCall struct {
	ref    string
	amount decimal.Decimal
}

type fakeRefunder struct {
	refunded []refundCall
	err      error
}

func (f *fakeRefunder) Refund(_ context.Context, ref string, amount decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	f.refunded = append(f.refunded, refundCall{ref: ref, amount: amount})
	return nil
}

type fixture struct {
	engine   *Engine
	products *catalog.MemoryStore
	balances *ledger.Ledger
	chats    *chat.Service
	inbox    *notify.MemoryStore
	refunder *fakeRefunder
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	products := catalog.NewMemoryStore()
	products.Put(&catalog.Product{
		ID: "prod_1", SellerID: "seller", Title: "Steam Deck",
		Price: dec("100.00"), CommissionRate: dec("15"), Status: catalog.StatusActive,
	})
	products.Put(&catalog.Product{
		ID: "prod_2", SellerID: "seller", Title: "Game Boy",
		Price: dec("0.01"), CommissionRate: dec("15"), Status: catalog.StatusActive,
	})

	balances := ledger.New(ledger.NewMemoryStore())
	chats := chat.NewService(chat.NewMemoryStore(), slog.Default())
	inbox := notify.NewMemoryStore()
	refunder := &fakeRefunder{}

	engine := NewEngine(NewMemoryStore(products), balances, products, slog.Default()).
		WithRefunder(refunder).
		WithChats(chats).
		WithNotifier(notify.New(inbox, slog.Default()))

	return &fixture{
		engine:   engine,
		products: products,
		balances: balances,
		chats:    chats,
		inbox:    inbox,
		refunder: refunder,
	}
}

func envelope(buyerID string, items ...gateway.CartItem) *gateway.CheckoutMetadata {
	return &gateway.CheckoutMetadata{BuyerID: buyerID, Items: items}
}

func item(productID, sellerID, title, price string) gateway.CartItem {
	return gateway.CartItem{
		ProductID: productID, SellerID: sellerID, Title: title,
		Price: dec(price), Quantity: 1,
	}
}

func (f *fixture) settle(t *testing.T) *Transaction {
	t.Helper()
	txns, err := f.engine.Settle(context.Background(), "pi_1",
		envelope("buyer", item("prod_1", "seller", "Steam Deck", "100.00")), true)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txns))
	}
	return txns[0]
}

func TestEngine_SettleFeeMath(t *testing.T) {
	f := newFixture(t)
	txn := f.settle(t)

	if txn.Status != StatusEscrow {
		t.Errorf("status = %s, want %s", txn.Status, StatusEscrow)
	}
	if !txn.Gross.Equal(dec("100.00")) {
		t.Errorf("gross = %s, want 100.00", txn.Gross)
	}
	if !txn.Fee.Equal(dec("15.00")) {
		t.Errorf("fee = %s, want 15.00", txn.Fee)
	}
	if !txn.Net.Equal(dec("85.00")) {
		t.Errorf("net = %s, want 85.00", txn.Net)
	}

	p, _ := f.products.Get(context.Background(), "prod_1")
	if p.Status != catalog.StatusSold {
		t.Errorf("product status = %s, want sold", p.Status)
	}
}

func TestEngine_FeeNeverBreaksGross(t *testing.T) {
	f := newFixture(t)

	// 0.01 at 15% rounds the fee to zero; net must still equal gross - fee.
	txns, err := f.engine.Settle(context.Background(), "pi_tiny",
		envelope("buyer", item("prod_2", "seller", "Game Boy", "0.01")), true)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	txn := txns[0]
	if !txn.Fee.Add(txn.Net).Equal(txn.Gross) {
		t.Errorf("fee %s + net %s != gross %s", txn.Fee, txn.Net, txn.Gross)
	}
}

func TestEngine_SettleReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.settle(t)

	again, err := f.engine.Settle(context.Background(), "pi_1",
		envelope("buyer", item("prod_1", "seller", "Steam Deck", "100.00")), true)
	if err != nil {
		t.Fatalf("replayed Settle failed: %v", err)
	}
	if len(again) != 1 || again[0].ID != first.ID {
		t.Errorf("replay created new rows: %+v", again)
	}
}

func TestEngine_PendingThenConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txns, err := f.engine.Settle(ctx, "pi_async",
		envelope("buyer", item("prod_1", "seller", "Steam Deck", "100.00")), false)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if txns[0].Status != StatusPending {
		t.Fatalf("status = %s, want pending", txns[0].Status)
	}
	// Product is reserved even before capture.
	p, _ := f.products.Get(ctx, "prod_1")
	if p.Status != catalog.StatusSold {
		t.Errorf("product status = %s, want sold", p.Status)
	}
	// Buyer cannot complete before the charge clears.
	if _, err := f.engine.Complete(ctx, txns[0].ID, "buyer"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete on pending = %v, want ErrInvalidTransition", err)
	}

	if err := f.engine.ConfirmPayment(ctx, "pi_async"); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}
	got, _ := f.engine.Get(ctx, txns[0].ID, "buyer", false)
	if got.Status != StatusEscrow {
		t.Errorf("status = %s, want escrow", got.Status)
	}

	// Redelivery of the confirmation changes nothing.
	if err := f.engine.ConfirmPayment(ctx, "pi_async"); err != nil {
		t.Fatalf("replayed ConfirmPayment failed: %v", err)
	}
}

func TestEngine_FailPaymentVoidsAndReactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txns, _ := f.engine.Settle(ctx, "pi_bad",
		envelope("buyer", item("prod_1", "seller", "Steam Deck", "100.00")), false)

	if err := f.engine.FailPayment(ctx, "pi_bad"); err != nil {
		t.Fatalf("FailPayment failed: %v", err)
	}
	got, _ := f.engine.Get(ctx, txns[0].ID, "buyer", false)
	if got.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", got.Status)
	}
	p, _ := f.products.Get(ctx, "prod_1")
	if p.Status != catalog.StatusActive {
		t.Errorf("product status = %s, want active again", p.Status)
	}
	// Nothing was captured, so the seller got nothing.
	bal, _ := f.balances.GetBalance(ctx, "seller")
	if !bal.Available.IsZero() {
		t.Errorf("seller balance = %s, want 0", bal.Available)
	}
}

func TestEngine_CompleteCreditsSellerNet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.settle(t)

	if _, err := f.engine.Complete(ctx, txn.ID, "someone-else"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Complete by stranger = %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.Complete(ctx, txn.ID, "seller"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Complete by seller = %v, want ErrUnauthorized", err)
	}

	done, err := f.engine.Complete(ctx, txn.ID, "buyer")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	bal, _ := f.balances.GetBalance(ctx, "seller")
	if !bal.Available.Equal(dec("85.00")) {
		t.Errorf("seller balance = %s, want net 85.00", bal.Available)
	}

	// A second confirmation must not credit twice.
	if _, err := f.engine.Complete(ctx, txn.ID, "buyer"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Complete = %v, want ErrInvalidTransition", err)
	}
	bal, _ = f.balances.GetBalance(ctx, "seller")
	if !bal.Available.Equal(dec("85.00")) {
		t.Errorf("seller balance after replay = %s, want 85.00", bal.Available)
	}
}

func TestEngine_DisputeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.settle(t)

	if _, err := f.engine.Dispute(ctx, txn.ID, "buyer", "  "); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("Dispute without reason = %v, want ErrReasonRequired", err)
	}
	if _, err := f.engine.Dispute(ctx, txn.ID, "stranger", "never arrived"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Dispute by stranger = %v, want ErrUnauthorized", err)
	}

	disputed, err := f.engine.Dispute(ctx, txn.ID, "buyer", "item never arrived")
	if err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}
	if disputed.Status != StatusDisputed {
		t.Errorf("status = %s, want disputed", disputed.Status)
	}
	if disputed.DisputeReason != "item never arrived" {
		t.Errorf("reason = %q", disputed.DisputeReason)
	}

	// A disputed transaction cannot be completed by the buyer.
	if _, err := f.engine.Complete(ctx, txn.ID, "buyer"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete on disputed = %v, want ErrInvalidTransition", err)
	}
	// And funds stay frozen.
	bal, _ := f.balances.GetBalance(ctx, "seller")
	if !bal.Available.IsZero() {
		t.Errorf("seller balance = %s, want 0 while disputed", bal.Available)
	}
}

func TestEngine_SellerCanDispute(t *testing.T) {
	f := newFixture(t)
	txn := f.settle(t)

	disputed, err := f.engine.Dispute(context.Background(), txn.ID, "seller", "buyer is unresponsive")
	if err != nil {
		t.Fatalf("Dispute by seller failed: %v", err)
	}
	if disputed.Status != StatusDisputed {
		t.Errorf("status = %s, want disputed", disputed.Status)
	}
}

func TestEngine_ResolveRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.settle(t)

	if _, err := f.engine.Resolve(ctx, txn.ID, "adm", ResolutionRelease); !errors.Is(err, ErrNotDisputed) {
		t.Errorf("Resolve on escrow = %v, want ErrNotDisputed", err)
	}

	if _, err := f.engine.Dispute(ctx, txn.ID, "buyer", "wrong color"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}
	resolved, err := f.engine.Resolve(ctx, txn.ID, "adm", ResolutionRelease)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", resolved.Status)
	}
	if resolved.ResolvedBy != "adm" {
		t.Errorf("resolved_by = %q, want adm", resolved.ResolvedBy)
	}

	bal, _ := f.balances.GetBalance(ctx, "seller")
	if !bal.Available.Equal(dec("85.00")) {
		t.Errorf("seller balance = %s, want 85.00", bal.Available)
	}
	if len(f.refunder.refunded) != 0 {
		t.Errorf("release must not refund, got %v", f.refunder.refunded)
	}
}

func TestEngine_ResolveRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.settle(t)

	if _, err := f.engine.Dispute(ctx, txn.ID, "buyer", "counterfeit"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}
	resolved, err := f.engine.Resolve(ctx, txn.ID, "adm", ResolutionRefund)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", resolved.Status)
	}
	if len(f.refunder.refunded) != 1 || f.refunder.refunded[0].ref != "pi_1" {
		t.Errorf("gateway refunds = %v, want [pi_1]", f.refunder.refunded)
	}
	if !f.refunder.refunded[0].amount.Equal(dec("100.00")) {
		t.Errorf("refund amount = %s, want the transaction's gross 100.00", f.refunder.refunded[0].amount)
	}

	// Seller never gets paid on a refund.
	bal, _ := f.balances.GetBalance(ctx, "seller")
	if !bal.Available.IsZero() {
		t.Errorf("seller balance = %s, want 0", bal.Available)
	}
	// The product does NOT return to the catalog automatically; an admin
	// reactivates it explicitly.
	p, _ := f.products.Get(ctx, "prod_1")
	if p.Status != catalog.StatusSold {
		t.Errorf("product status = %s, want sold until admin reactivates", p.Status)
	}
}

func TestEngine_SettleOpensChatAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.settle(t)

	c, err := f.chats.GetByTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("chat not opened: %v", err)
	}
	if c.BuyerID != "buyer" || c.SellerID != "seller" {
		t.Errorf("chat parties = %s/%s", c.BuyerID, c.SellerID)
	}

	sellerInbox, _ := f.inbox.ListByUser(ctx, "seller", nil, 10)
	buyerInbox, _ := f.inbox.ListByUser(ctx, "buyer", nil, 10)
	if len(sellerInbox) != 1 || len(buyerInbox) != 1 {
		t.Errorf("inbox sizes = %d/%d, want 1/1", len(sellerInbox), len(buyerInbox))
	}
}

func TestEngine_GetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.settle(t)

	if _, err := f.engine.Get(ctx, txn.ID, "stranger", false); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Get by stranger = %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.Get(ctx, txn.ID, "stranger", true); err != nil {
		t.Errorf("Get by admin = %v, want nil", err)
	}
	if _, err := f.engine.Get(ctx, "missing", "buyer", false); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("Get missing = %v, want ErrTransactionNotFound", err)
	}
}

func TestEngine_MultiItemCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txns, err := f.engine.Settle(ctx, "pi_cart",
		envelope("buyer",
			item("prod_1", "seller", "Steam Deck", "100.00"),
			item("prod_2", "seller", "Game Boy", "0.01"),
		), true)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("got %d transactions, want one per item", len(txns))
	}

	// Items advance independently: complete one, dispute the other.
	if _, err := f.engine.Complete(ctx, txns[0].ID, "buyer"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := f.engine.Dispute(ctx, txns[1].ID, "buyer", "dead pixels"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	mine, _ := f.engine.ListForUser(ctx, "buyer", SideAll, 10)
	if len(mine) != 2 {
		t.Errorf("buyer sees %d transactions, want 2", len(mine))
	}
}

func TestEngine_FailPaymentAfterCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.settle(t) // captured: the row sits in escrow

	// The provider reversed the charge after capture (e.g. an async
	// payment method bounced). The escrowed row must void too.
	if err := f.engine.FailPayment(ctx, "pi_1"); err != nil {
		t.Fatalf("FailPayment failed: %v", err)
	}
	got, _ := f.engine.Get(ctx, txn.ID, "buyer", false)
	if got.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", got.Status)
	}
	p, _ := f.products.Get(ctx, "prod_1")
	if p.Status != catalog.StatusActive {
		t.Errorf("product status = %s, want active again", p.Status)
	}
	bal, _ := f.balances.GetBalance(ctx, "seller")
	if !bal.Available.IsZero() {
		t.Errorf("seller balance = %s, want 0", bal.Available)
	}
	// The provider reversed the money itself; we must not refund again.
	if len(f.refunder.refunded) != 0 {
		t.Errorf("gateway refunds = %v, want none", f.refunder.refunded)
	}
}

func TestEngine_ResolveRefundOnSharedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two cart lines paid with a single charge.
	txns, err := f.engine.Settle(ctx, "pi_shared",
		envelope("buyer",
			item("prod_1", "seller", "Steam Deck", "100.00"),
			item("prod_2", "seller", "Game Boy", "0.01"),
		), true)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	var deck, boy *Transaction
	for _, txn := range txns {
		switch txn.ProductID {
		case "prod_1":
			deck = txn
		case "prod_2":
			boy = txn
		}
	}
	if deck == nil || boy == nil {
		t.Fatalf("missing transactions: %v", txns)
	}

	if _, err := f.engine.Dispute(ctx, deck.ID, "buyer", "counterfeit"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}
	if _, err := f.engine.Resolve(ctx, deck.ID, "adm", ResolutionRefund); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Only the disputed line's gross goes back; the sibling keeps its share.
	if len(f.refunder.refunded) != 1 {
		t.Fatalf("gateway refunds = %v, want exactly one", f.refunder.refunded)
	}
	call := f.refunder.refunded[0]
	if call.ref != "pi_shared" || !call.amount.Equal(dec("100.00")) {
		t.Errorf("refunded %s of %s, want 100.00 of pi_shared", call.amount, call.ref)
	}
	sibling, _ := f.engine.Get(ctx, boy.ID, "buyer", false)
	if sibling.Status != StatusEscrow {
		t.Errorf("sibling status = %s, want escrow untouched", sibling.Status)
	}
}

func TestEngine_SettlePartialLineFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One line references a product the catalog has never seen. That
	// line fails; the other still settles, and the error surfaces so
	// the webhook can ask for redelivery.
	txns, err := f.engine.Settle(ctx, "pi_partial",
		envelope("buyer",
			item("prod_1", "seller", "Steam Deck", "100.00"),
			item("prod_ghost", "seller", "Vaporware", "50.00"),
		), true)
	if err == nil {
		t.Fatal("expected an error for the unknown product line")
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want the surviving line only", len(txns))
	}
	if txns[0].ProductID != "prod_1" || txns[0].Status != StatusEscrow {
		t.Errorf("surviving line = %s/%s, want prod_1 in escrow", txns[0].ProductID, txns[0].Status)
	}

	// Redelivery retries only the failed line: the settled one replays.
	again, err := f.engine.Settle(ctx, "pi_partial",
		envelope("buyer", item("prod_1", "seller", "Steam Deck", "100.00")), true)
	if err != nil {
		t.Fatalf("redelivered settle failed: %v", err)
	}
	if len(again) != 1 {
		t.Errorf("got %d transactions after replay, want 1", len(again))
	}
}
