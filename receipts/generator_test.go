package receipts

import (
	"testing"
	"time"

	"github.com/plm/splitpay/domain"
)

func testTxn() *domain.Transaction {
	return &domain.Transaction{
		ID:               "txn_1",
		StoreID:          "store_1",
		CheckoutToken:    "tok_1",
		OrderID:          "order_1",
		OrderNumber:      "#1001",
		TotalAmountCents: 15000,
		Currency:         "USD",
		Status:           domain.TransactionCompleted,
		CreatedAt:        time.Unix(0, 0),
		UpdatedAt:        time.Unix(0, 0),
	}
}

func TestCaptureReceipt_ProducesSignedPDF(t *testing.T) {
	g := New("Acme Shop")
	cards := []CardLine{
		{CardBrand: "visa", CardLastFour: "4242", AmountCents: 10000},
		{CardBrand: "mastercard", CardLastFour: "4444", AmountCents: 5000},
	}

	pdfBytes, sig, err := g.CaptureReceipt(testTxn(), cards)
	if err != nil {
		t.Fatalf("CaptureReceipt: %v", err)
	}
	if len(pdfBytes) == 0 {
		t.Fatal("expected non-empty pdf bytes")
	}
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}
	if !VerifySignature(pdfBytes, sig) {
		t.Fatal("signature should verify against the pdf bytes it was issued for")
	}
	if VerifySignature(append(pdfBytes, 0x00), sig) {
		t.Fatal("signature should not verify against tampered bytes")
	}
}

func TestRefundReceipt_SignsReceiptWithFailedRefundPresent(t *testing.T) {
	g := New("Acme Shop")
	refunds := []*domain.Refund{
		{ID: "rf_1", AmountCents: 3000, Reason: domain.RefundReason("requested_by_customer"), Status: domain.RefundSucceeded},
		{ID: "rf_2", AmountCents: 2000, Reason: domain.RefundReason("fraudulent"), Status: domain.RefundStatus("failed")},
	}

	pdfBytes, sig, err := g.RefundReceipt(testTxn(), refunds)
	if err != nil {
		t.Fatalf("RefundReceipt: %v", err)
	}
	if !VerifySignature(pdfBytes, sig) {
		t.Fatal("signature should verify")
	}
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents    int64
		currency string
		want     string
	}{
		{15000, "USD", "150.00 USD"},
		{99, "USD", "0.99 USD"},
		{-500, "USD", "-5.00 USD"},
	}
	for _, tc := range cases {
		if got := formatCents(tc.cents, tc.currency); got != tc.want {
			t.Errorf("formatCents(%d, %q) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}
