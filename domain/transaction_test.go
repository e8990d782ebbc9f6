package domain

import "testing"

func TestTransaction_TransitionTo(t *testing.T) {
	tx, err := NewTransaction("txn_1", "store_1", "abcdefghij0123456789ABCDEFGHIJ01", 15000, "USD", CustomerMeta{})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if tx.Status != TransactionPending {
		t.Fatalf("new transaction should be pending, got %s", tx.Status)
	}

	if err := tx.TransitionTo(TransactionProcessing); err != nil {
		t.Fatalf("pending -> processing should be allowed: %v", err)
	}
	if err := tx.MarkCompleted(); err != nil {
		t.Fatalf("processing -> completed should be allowed: %v", err)
	}
	if err := tx.TransitionTo(TransactionPending); err == nil {
		t.Fatal("completed -> pending must be rejected")
	}
	if err := tx.TransitionTo(TransactionPartiallyRefunded); err != nil {
		t.Fatalf("completed -> partially_refunded should be allowed: %v", err)
	}
}

func TestTransaction_MarkFailedRequiresProcessing(t *testing.T) {
	tx, _ := NewTransaction("txn_2", "store_1", "abcdefghij0123456789ABCDEFGHIJ01", 15000, "USD", CustomerMeta{})
	if err := tx.MarkFailed("declined"); err == nil {
		t.Fatal("pending -> failed directly should be rejected; must go through processing")
	}
	tx.TransitionTo(TransactionProcessing)
	if err := tx.MarkFailed("card declined"); err != nil {
		t.Fatalf("processing -> failed should be allowed: %v", err)
	}
	if tx.FailureReason != "card declined" {
		t.Fatalf("failure reason not recorded: %q", tx.FailureReason)
	}
}

func TestNewTransaction_RejectsZeroTotal(t *testing.T) {
	if _, err := NewTransaction("txn_3", "store_1", "abcdefghij0123456789ABCDEFGHIJ01", 0, "USD", CustomerMeta{}); err == nil {
		t.Fatal("expected error for zero total amount")
	}
}
