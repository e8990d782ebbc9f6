package provider

import (
	"context"
	"errors"
	"testing"
)

func TestFake_HappyPath(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	auth, err := f.Authorize(ctx, AuthorizationRequest{AmountCents: 5000, Currency: "USD"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	confirmed, err := f.ConfirmAuthorization(ctx, auth.IntentID)
	if err != nil {
		t.Fatalf("ConfirmAuthorization: %v", err)
	}
	if confirmed.CardLastFour != "4242" {
		t.Fatalf("expected test card details, got %+v", confirmed)
	}

	if _, err := f.Capture(ctx, auth.IntentID); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	if _, err := f.Refund(ctx, RefundRequest{IntentID: auth.IntentID, AmountCents: 2000}); err != nil {
		t.Fatalf("Refund: %v", err)
	}
}

func TestFake_DeclineNext(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	auth, err := f.Authorize(ctx, AuthorizationRequest{AmountCents: 5000, Currency: "USD"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	f.DeclineNext(auth.IntentID)

	if _, err := f.ConfirmAuthorization(ctx, auth.IntentID); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
}

func TestFake_RefundRequiresCapture(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	auth, _ := f.Authorize(ctx, AuthorizationRequest{AmountCents: 5000, Currency: "USD"})
	if _, err := f.Refund(ctx, RefundRequest{IntentID: auth.IntentID, AmountCents: 1000}); err == nil {
		t.Fatal("expected error refunding an uncaptured intent")
	}
}
