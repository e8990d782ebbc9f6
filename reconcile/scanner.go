package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/plm/splitpay/orchestrator"
	"github.com/plm/splitpay/storage/postgres"
)

// ScannerConfig configures the periodic sweep for stuck post-capture
// transactions (§9 "Post-capture / pre-order window").
type ScannerConfig struct {
	Interval time.Duration
}

// DefaultScannerConfig runs the sweep once a minute, generous enough to
// catch a crash window without hammering the commerce platform.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{Interval: time.Minute}
}

// Scanner finds transactions stuck `completed` with no `order_id` — the
// crash window between capture-all and order creation — and retries order
// submission for each.
type Scanner struct {
	db       *postgres.Client
	platform orchestrator.CommercePlatform
	alerts   AlertSink
	cfg      ScannerConfig
}

// NewScanner builds a Scanner.
func NewScanner(db *postgres.Client, platform orchestrator.CommercePlatform, alerts AlertSink, cfg ScannerConfig) *Scanner {
	if cfg.Interval <= 0 {
		cfg = DefaultScannerConfig()
	}
	return &Scanner{db: db, platform: platform, alerts: alerts, cfg: cfg}
}

// Run ticks until ctx is canceled, sweeping once immediately on startup.
func (s *Scanner) Run(ctx context.Context) {
	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// SweepNow runs an out-of-cycle sweep on demand (the opctl ReconcileNow
// RPC) and reports how many stuck transactions it attempted to repair.
func (s *Scanner) SweepNow(ctx context.Context) int {
	return s.sweepOnce(ctx)
}

func (s *Scanner) sweepOnce(ctx context.Context) int {
	stuck, err := s.db.Transactions().ListCompletedWithoutOrder(ctx)
	if err != nil {
		s.alerts.Alert(ctx, "reconciliation_scan_error", err.Error(), nil)
		return 0
	}

	for _, txn := range stuck {
		store, err := s.db.Stores().GetByID(ctx, txn.StoreID)
		if err != nil {
			s.alerts.Alert(ctx, "reconciliation_scan_error", err.Error(), map[string]string{"transaction_id": txn.ID})
			continue
		}

		payments, err := s.db.Payments().ListByTransaction(ctx, txn.ID)
		if err != nil {
			continue
		}

		orderID, orderNumber, err := s.platform.SubmitOrder(ctx, orchestrator.OrderRequest{
			AccessToken:   store.AccessToken,
			CheckoutToken: txn.CheckoutToken,
			TotalCents:    txn.TotalAmountCents,
			Currency:      txn.Currency,
			CustomerEmail: txn.Customer.Email,
			TransactionID: txn.ID,
			PaymentCount:  len(payments),
		})
		if err != nil {
			s.alerts.Alert(ctx, "order_submission_failed", fmt.Sprintf("retry failed: %v", err), map[string]string{"transaction_id": txn.ID})
			continue
		}

		s.db.Transactions().AssignOrder(ctx, txn.ID, orderID, orderNumber)
	}
	return len(stuck)
}
