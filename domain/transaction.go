package domain

import (
	"fmt"
	"time"
)

// TransactionStatus is the state of a checkout attempt (§3).
type TransactionStatus string

const (
	TransactionPending            TransactionStatus = "pending"
	TransactionProcessing         TransactionStatus = "processing"
	TransactionCompleted          TransactionStatus = "completed"
	TransactionFailed             TransactionStatus = "failed"
	TransactionPartiallyRefunded  TransactionStatus = "partially_refunded"
	TransactionRefunded           TransactionStatus = "refunded"
)

// transactionTransitions enumerates the only allowed status edges.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPending:           {TransactionProcessing},
	TransactionProcessing:        {TransactionCompleted, TransactionFailed},
	TransactionCompleted:         {TransactionPartiallyRefunded, TransactionRefunded},
	TransactionPartiallyRefunded: {TransactionRefunded, TransactionPartiallyRefunded},
}

// CanTransition reports whether from -> to is a legal transaction edge.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CustomerMeta captures the buyer metadata recorded with a transaction.
type CustomerMeta struct {
	Email     string
	IP        string
	UserAgent string
}

// Transaction is the aggregate root for one checkout attempt (§3).
type Transaction struct {
	ID                string
	StoreID           string
	CheckoutToken     string
	OrderID           string
	OrderNumber       string
	TotalAmountCents  int64
	Currency          string
	Status            TransactionStatus
	FailureReason     string
	Customer          CustomerMeta
	IdempotencyKey    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewTransaction creates a pending transaction for a checkout token.
// totalAmountCents must be resolved from the commerce platform's
// authoritative checkout total before this is called (§9 "Amount source
// of truth") — it is never trusted from the widget.
func NewTransaction(id, storeID, checkoutToken string, totalAmountCents int64, currency string, customer CustomerMeta) (*Transaction, error) {
	if id == "" || storeID == "" || checkoutToken == "" {
		return nil, ErrInvalidInput
	}
	if totalAmountCents <= 0 {
		return nil, ErrAmountOutOfRange
	}
	if currency == "" {
		currency = "USD"
	}
	now := time.Now()
	return &Transaction{
		ID:               id,
		StoreID:          storeID,
		CheckoutToken:    checkoutToken,
		TotalAmountCents: totalAmountCents,
		Currency:         currency,
		Status:           TransactionPending,
		Customer:         customer,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// TransitionTo moves the transaction to a new status, enforcing §3's
// invariant 5-equivalent guard for transactions (no backward jumps, no
// skipping processing).
func (t *Transaction) TransitionTo(to TransactionStatus) error {
	if !t.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}

// MarkFailed transitions processing -> failed, recording the reason.
func (t *Transaction) MarkFailed(reason string) error {
	if err := t.TransitionTo(TransactionFailed); err != nil {
		return err
	}
	t.FailureReason = reason
	return nil
}

// MarkCompleted transitions processing -> completed.
func (t *Transaction) MarkCompleted() error {
	return t.TransitionTo(TransactionCompleted)
}

// AssignOrder records the commerce-platform order id/number (§4.7).
func (t *Transaction) AssignOrder(orderID, orderNumber string) {
	t.OrderID = orderID
	t.OrderNumber = orderNumber
	t.UpdatedAt = time.Now()
}
