package domain

import (
	"fmt"
	"time"
)

// PaymentStatus is the lifecycle of a single card's authorization (§3).
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentVoided     PaymentStatus = "voided"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentAuthorized, PaymentFailed},
	PaymentAuthorized: {PaymentCaptured, PaymentVoided},
	PaymentCaptured:   {PaymentRefunded},
}

// terminalPaymentStatuses never re-enter a non-terminal state (§3 invariant 5).
var terminalPaymentStatuses = map[PaymentStatus]bool{
	PaymentCaptured: true,
	PaymentVoided:   true,
	PaymentFailed:   true,
	PaymentRefunded: true,
}

// IsTerminal reports whether a payment in this status may never transition
// to a non-terminal status again.
func (s PaymentStatus) IsTerminal() bool {
	return terminalPaymentStatuses[s]
}

// CanTransition reports whether from -> to is one of the allowed edges in
// §3 invariant 5: pending->authorized->captured, authorized->voided,
// pending->failed. captured->refunded is modeled at the payment level
// once its captured amount has been fully refunded (see Refund rows);
// partial refunds do not change the payment's own status.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	if s.IsTerminal() && !to.IsTerminal() {
		return false
	}
	for _, allowed := range paymentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Payment is one card's share of a transaction (§3), 2..5 per transaction.
type Payment struct {
	ID                string
	TransactionID     string
	ProviderIntentID  string
	ProviderMethodID  string
	AmountCents       int64
	CardBrand         string
	CardLastFour      string
	CardExpMonth      int
	CardExpYear       int
	Status            PaymentStatus
	FailureCode       string
	FailureMessage    string
	AuthorizedAt      *time.Time
	CapturedAt        *time.Time
	VoidedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPayment creates a pending payment row immediately after the provider
// authorization has been requested (§4.6 add_card step 2).
func NewPayment(id, transactionID, providerIntentID string, amountCents int64) (*Payment, error) {
	if id == "" || transactionID == "" || providerIntentID == "" {
		return nil, ErrInvalidInput
	}
	if amountCents <= 0 {
		return nil, ErrAmountOutOfRange
	}
	now := time.Now()
	return &Payment{
		ID:               id,
		TransactionID:    transactionID,
		ProviderIntentID: providerIntentID,
		AmountCents:      amountCents,
		Status:           PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// TransitionTo enforces the payment state machine.
func (p *Payment) TransitionTo(to PaymentStatus) error {
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return nil
}

// MarkAuthorized records a successful confirm_authorization call.
func (p *Payment) MarkAuthorized(methodID string) error {
	if err := p.TransitionTo(PaymentAuthorized); err != nil {
		return err
	}
	p.ProviderMethodID = methodID
	now := time.Now()
	p.AuthorizedAt = &now
	return nil
}

// MarkCaptured records a successful capture_authorization call.
func (p *Payment) MarkCaptured() error {
	if err := p.TransitionTo(PaymentCaptured); err != nil {
		return err
	}
	now := time.Now()
	p.CapturedAt = &now
	return nil
}

// MarkVoided records a (possibly idempotent) cancel_authorization call.
func (p *Payment) MarkVoided() error {
	if err := p.TransitionTo(PaymentVoided); err != nil {
		return err
	}
	now := time.Now()
	p.VoidedAt = &now
	return nil
}

// MarkFailed records a decline or transient provider failure.
func (p *Payment) MarkFailed(code, message string) error {
	if err := p.TransitionTo(PaymentFailed); err != nil {
		return err
	}
	p.FailureCode = code
	p.FailureMessage = message
	return nil
}

// SetCardDetails records the card identifiers a widget may surface on
// decline (§6 failedCard) — set at confirm time once the provider reports
// the payment method.
func (p *Payment) SetCardDetails(brand, lastFour string, expMonth, expYear int) {
	p.CardBrand = brand
	p.CardLastFour = lastFour
	p.CardExpMonth = expMonth
	p.CardExpYear = expYear
}

// RefundReason is the documented set of refund reasons (§3).
type RefundReason string

const (
	RefundReasonDuplicate       RefundReason = "duplicate"
	RefundReasonFraudulent      RefundReason = "fraudulent"
	RefundReasonRequestedByUser RefundReason = "requested_by_customer"
)

// RefundInitiator is who kicked off a refund (§3).
type RefundInitiator string

const (
	InitiatedByAdmin     RefundInitiator = "admin"
	InitiatedByWebhook   RefundInitiator = "webhook"
	InitiatedByAutomatic RefundInitiator = "automatic"
)

// RefundStatus is the lifecycle of one refund row (§3).
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// Refund is one partial-refund operation on one captured payment (§3).
type Refund struct {
	ID              string
	TransactionID   string
	PaymentID       string
	ProviderRefundID string
	AmountCents     int64
	Reason          RefundReason
	Status          RefundStatus
	InitiatedBy     RefundInitiator
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewRefund creates a pending refund row before the provider call is made.
func NewRefund(id, transactionID, paymentID string, amountCents int64, reason RefundReason, initiatedBy RefundInitiator) (*Refund, error) {
	if id == "" || transactionID == "" || paymentID == "" {
		return nil, ErrInvalidInput
	}
	if amountCents <= 0 {
		return nil, ErrAmountOutOfRange
	}
	now := time.Now()
	return &Refund{
		ID:            id,
		TransactionID: transactionID,
		PaymentID:     paymentID,
		AmountCents:   amountCents,
		Reason:        reason,
		Status:        RefundPending,
		InitiatedBy:   initiatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Succeed records a successful provider refund.
func (r *Refund) Succeed(providerRefundID string) {
	r.ProviderRefundID = providerRefundID
	r.Status = RefundSucceeded
	r.UpdatedAt = time.Now()
}

// Fail records a failed provider refund without aborting its siblings
// (§4.6 refund step 6).
func (r *Refund) Fail(reason string) {
	r.Status = RefundFailed
	r.FailureReason = reason
	r.UpdatedAt = time.Now()
}
