// Integration tests for the orchestrator's state machine. These exercise
// a real Postgres instance (postgres.DefaultConfig, on localhost) and the
// in-memory session cache and fake provider, mirroring the end-to-end
// scenarios the split-payment checkout is built against.
package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/provider"
	"github.com/plm/splitpay/session"
	"github.com/plm/splitpay/storage/postgres"
)

type fakePlatform struct {
	totalCents int64
	currency   string
}

func (p *fakePlatform) CheckoutTotal(ctx context.Context, accessToken, checkoutToken string) (int64, string, error) {
	return p.totalCents, p.currency, nil
}

func (p *fakePlatform) SubmitOrder(ctx context.Context, req OrderRequest) (string, string, error) {
	return "order_" + uuid.NewString(), "#1001", nil
}

type noopAlerts struct{ alerts []string }

func (a *noopAlerts) Alert(ctx context.Context, kind, message string, fields map[string]string) {
	a.alerts = append(a.alerts, kind)
}

func newTestOrchestrator(t *testing.T, totalCents int64) (*Orchestrator, *domain.Store) {
	t.Helper()
	ctx := context.Background()

	db, err := postgres.NewClient(ctx, postgres.DefaultConfig())
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, _ := domain.NewStore(uuid.NewString(), "split-test-"+uuid.NewString()[:8]+".myshopify.com", "shpat_test", domain.NewStoreSettings(5, 100))
	if err := db.Stores().Create(ctx, store); err != nil {
		t.Fatalf("create store: %v", err)
	}

	sessions := session.NewInProcessCache(4, time.Hour)
	t.Cleanup(sessions.Close)

	orch := New(db, sessions, provider.NewFake(), &fakePlatform{totalCents: totalCents, currency: "USD"}, &noopAlerts{})
	t.Cleanup(orch.Close)
	return orch, store
}

// TestOrchestrator_S1_HappyPathTwoCards mirrors scenario S1: a $150 total
// split 100/50 across two cards, both authorize and capture cleanly.
func TestOrchestrator_S1_HappyPathTwoCards(t *testing.T) {
	ctx := context.Background()
	orch, store := newTestOrchestrator(t, 15000)

	init, err := orch.Init(ctx, store.ShopDomain, "abcdefghij0123456789ABCDEFGHIJ01", domain.CustomerMeta{Email: "buyer@example.com"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if init.TotalAmountCents != 15000 {
		t.Fatalf("expected total 15000, got %d", init.TotalAmountCents)
	}

	card1, err := orch.AddCard(ctx, init.SessionID, 10000)
	if err != nil {
		t.Fatalf("AddCard 1: %v", err)
	}
	card2, err := orch.AddCard(ctx, init.SessionID, 5000)
	if err != nil {
		t.Fatalf("AddCard 2: %v", err)
	}

	result, err := orch.Complete(ctx, init.SessionID, []CardConfirmation{
		{ProviderIntentID: card1.ProviderIntentID, ProviderMethodID: "pm_1"},
		{ProviderIntentID: card2.ProviderIntentID, ProviderMethodID: "pm_2"},
	}, "buyer@example.com", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.OrderID == "" {
		t.Fatal("expected an order id")
	}

	txn, err := orch.db.Transactions().GetByID(ctx, init.TransactionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if txn.Status != domain.TransactionCompleted {
		t.Fatalf("expected completed, got %s", txn.Status)
	}

	payments, err := orch.db.Payments().ListByTransaction(ctx, init.TransactionID)
	if err != nil {
		t.Fatalf("ListByTransaction: %v", err)
	}
	if !domain.AllCaptured(payments) {
		t.Fatalf("expected all payments captured, got %+v", payments)
	}
	if domain.CapturedSum(payments) != 15000 {
		t.Fatalf("expected captured sum 15000, got %d", domain.CapturedSum(payments))
	}

	if _, err := orch.sessions.Get(ctx, init.SessionID); err == nil {
		t.Fatal("expected session to be deleted after complete")
	}
}

// TestOrchestrator_S2_SecondCardDeclines mirrors scenario S2: three-way
// split where the second card declines, triggering compensation.
func TestOrchestrator_S2_SecondCardDeclines(t *testing.T) {
	ctx := context.Background()
	orch, store := newTestOrchestrator(t, 12000)

	init, err := orch.Init(ctx, store.ShopDomain, "zzyyxxwwvvuu9876543210zzyyxxwwvv", domain.CustomerMeta{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	cards := make([]*AddCardResult, 3)
	for i, amt := range []int64{4000, 4000, 4000} {
		c, err := orch.AddCard(ctx, init.SessionID, amt)
		if err != nil {
			t.Fatalf("AddCard %d: %v", i, err)
		}
		cards[i] = c
	}

	fake := orch.provider.(*provider.Fake)
	fake.DeclineNext(cards[1].ProviderIntentID)

	_, err = orch.Complete(ctx, init.SessionID, []CardConfirmation{
		{ProviderIntentID: cards[0].ProviderIntentID, ProviderMethodID: "pm_1"},
		{ProviderIntentID: cards[1].ProviderIntentID, ProviderMethodID: "pm_2"},
		{ProviderIntentID: cards[2].ProviderIntentID, ProviderMethodID: "pm_3"},
	}, "", "")
	if err == nil {
		t.Fatal("expected complete() to fail when a card declines")
	}
	failedCard, ok := err.(*FailedCardError)
	if !ok {
		t.Fatalf("expected FailedCardError, got %T: %v", err, err)
	}
	if failedCard.ProviderIntentID != cards[1].ProviderIntentID {
		t.Fatalf("expected card 2 to be the failing card, got %s", failedCard.ProviderIntentID)
	}

	txn, err := orch.db.Transactions().GetByID(ctx, init.TransactionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if txn.Status != domain.TransactionFailed {
		t.Fatalf("expected failed, got %s", txn.Status)
	}

	payments, err := orch.db.Payments().ListByTransaction(ctx, init.TransactionID)
	if err != nil {
		t.Fatalf("ListByTransaction: %v", err)
	}
	if !domain.NoneCaptured(payments) {
		t.Fatalf("expected no captured payments after compensation, got %+v", payments)
	}
}

// TestOrchestrator_CompleteIsIdempotent mirrors a client retrying
// complete() with the same idempotency key after the first call already
// succeeded — the retry must replay the original order rather than
// re-running the capture/submit pipeline (§9).
func TestOrchestrator_CompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	orch, store := newTestOrchestrator(t, 5000)

	init, err := orch.Init(ctx, store.ShopDomain, "idem0000000000000000000000000000", domain.CustomerMeta{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	card1, err := orch.AddCard(ctx, init.SessionID, 3000)
	if err != nil {
		t.Fatalf("AddCard 1: %v", err)
	}
	card2, err := orch.AddCard(ctx, init.SessionID, 2000)
	if err != nil {
		t.Fatalf("AddCard 2: %v", err)
	}

	confirmations := []CardConfirmation{
		{ProviderIntentID: card1.ProviderIntentID, ProviderMethodID: "pm_1"},
		{ProviderIntentID: card2.ProviderIntentID, ProviderMethodID: "pm_2"},
	}

	first, err := orch.Complete(ctx, init.SessionID, confirmations, "buyer@example.com", "retry-key-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if first.OrderID == "" {
		t.Fatal("expected an order id")
	}

	// A supplied idempotency key leaves the session alive instead of
	// deleting it, so a retry on the same session replays the cached
	// result rather than failing on a missing session.
	second, err := orch.Complete(ctx, init.SessionID, confirmations, "buyer@example.com", "retry-key-1")
	if err != nil {
		t.Fatalf("Complete (retry): %v", err)
	}
	if second.OrderID != first.OrderID || second.OrderNumber != first.OrderNumber {
		t.Fatalf("expected replayed result %+v, got %+v", first, second)
	}

	txn, err := orch.db.Transactions().GetByID(ctx, init.TransactionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if txn.IdempotencyKey != "retry-key-1" {
		t.Fatalf("expected idempotency key to be recorded, got %q", txn.IdempotencyKey)
	}
	payments, err := orch.db.Payments().ListByTransaction(ctx, init.TransactionID)
	if err != nil {
		t.Fatalf("ListByTransaction: %v", err)
	}
	captureCount := 0
	for _, p := range payments {
		if p.Status == domain.PaymentCaptured {
			captureCount++
		}
	}
	if captureCount != 2 {
		t.Fatalf("expected the retry to skip re-capturing, got %d captured payments", captureCount)
	}
}
