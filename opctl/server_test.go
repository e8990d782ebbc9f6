package opctl

import (
	"context"
	"testing"
	"time"
)

type fakeSweeper struct {
	attempted int
}

func (f *fakeSweeper) SweepNow(ctx context.Context) int {
	return f.attempted
}

func TestAlertRing_EvictsOldestPastCapacity(t *testing.T) {
	ring := NewAlertRing(3)
	for i := 0; i < 5; i++ {
		ring.Alert(context.Background(), "kind", "message", nil)
	}
	if got := len(ring.recent(0)); got != 3 {
		t.Fatalf("expected ring capped at 3, got %d", got)
	}
}

func TestAlertRing_RecentRespectsLimit(t *testing.T) {
	ring := NewAlertRing(10)
	for i := 0; i < 5; i++ {
		ring.Alert(context.Background(), "kind", "message", nil)
	}
	if got := len(ring.recent(2)); got != 2 {
		t.Fatalf("expected 2 recent alerts, got %d", got)
	}
}

func TestService_ReconcileNow_ReturnsSweeperCount(t *testing.T) {
	svc := NewService(&fakeSweeper{attempted: 4}, NewAlertRing(10))
	resp, err := svc.ReconcileNow(context.Background(), &ReconcileNowRequest{})
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if resp.Attempted != 4 {
		t.Fatalf("expected attempted=4, got %d", resp.Attempted)
	}
}

func TestService_ListAlerts_ReturnsRecordedAlerts(t *testing.T) {
	ring := NewAlertRing(10)
	ring.Alert(context.Background(), "order_submission_failed", "boom", map[string]string{"transaction_id": "txn_1"})
	svc := NewService(&fakeSweeper{}, ring)

	resp, err := svc.ListAlerts(context.Background(), &ListAlertsRequest{Limit: 10})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].Kind != "order_submission_failed" {
		t.Fatalf("unexpected alerts: %+v", resp.Alerts)
	}
	if resp.Alerts[0].Timestamp.After(time.Now()) {
		t.Fatal("timestamp should not be in the future")
	}
}
