// Package receipts renders buyer-facing PDF receipts for capture-all and
// refund events, each signed so a receipt's authenticity can be checked
// independently of the PDF bytes themselves.
package receipts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/plm/splitpay/domain"
)

func signingSecret() []byte {
	if key := os.Getenv("RECEIPT_SIGNING_KEY"); key != "" {
		return []byte(key)
	}
	return []byte("insecure-default-receipt-key")
}

// CardLine is one captured card's line item on the receipt.
type CardLine struct {
	CardBrand    string
	CardLastFour string
	AmountCents  int64
}

// Generator builds signed PDF receipts.
type Generator struct {
	merchantName string
}

// New builds a Generator for a given merchant display name.
func New(merchantName string) *Generator {
	return &Generator{merchantName: merchantName}
}

// CaptureReceipt renders the receipt for a completed split-payment
// checkout: one line per captured card plus the order reference.
func (g *Generator) CaptureReceipt(txn *domain.Transaction, cards []CardLine) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, g.merchantName)
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Order %s (%s)", txn.OrderNumber, txn.OrderID))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Transaction %s — %s", txn.ID, time.Now().Format(time.RFC3339)))
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(60, 8, "Card")
	pdf.Cell(40, 8, "Amount")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 11)
	for _, c := range cards {
		pdf.Cell(60, 8, fmt.Sprintf("%s ****%s", c.CardBrand, c.CardLastFour))
		pdf.Cell(40, 8, formatCents(c.AmountCents, txn.Currency))
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Total charged: %s", formatCents(txn.TotalAmountCents, txn.Currency)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("render receipt pdf: %w", err)
	}

	return buf.Bytes(), signReceipt(buf.Bytes()), nil
}

// RefundReceipt renders a standalone receipt documenting a refund.
func (g *Generator) RefundReceipt(txn *domain.Transaction, refunds []*domain.Refund) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, g.merchantName+" — Refund")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Transaction %s — %s", txn.ID, time.Now().Format(time.RFC3339)))
	pdf.Ln(10)

	var total int64
	pdf.SetFont("Arial", "", 11)
	for _, rf := range refunds {
		if rf.Status != domain.RefundSucceeded {
			continue
		}
		pdf.Cell(60, 8, fmt.Sprintf("Refund %s (%s)", rf.ID, rf.Reason))
		pdf.Cell(40, 8, formatCents(rf.AmountCents, txn.Currency))
		pdf.Ln(7)
		total += rf.AmountCents
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Total refunded: %s", formatCents(total, txn.Currency)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("render refund receipt pdf: %w", err)
	}

	return buf.Bytes(), signReceipt(buf.Bytes()), nil
}

func signReceipt(pdfBytes []byte) string {
	mac := hmac.New(sha256.New, signingSecret())
	mac.Write(pdfBytes)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature re-derives a receipt's signature and compares it to the
// one issued at generation time.
func VerifySignature(pdfBytes []byte, signature string) bool {
	return hmac.Equal([]byte(signReceipt(pdfBytes)), []byte(signature))
}

func formatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
