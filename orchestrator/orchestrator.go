// Package orchestrator drives the split-payment state machine: init,
// add_card, remove_card, complete, and refund. It is the only component
// that mutates both the durable store and the payment provider in the
// same operation, and the only one that knows how to compensate a
// partially-authorized or partially-captured split (§4.6).
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/provider"
	"github.com/plm/splitpay/session"
	"github.com/plm/splitpay/storage/postgres"
	"github.com/plm/splitpay/validate"
)

// CommercePlatform fetches the authoritative checkout total and submits
// orders — the order-submitter boundary (§4.7) the orchestrator calls on
// capture-all success. Kept here as a narrow interface so orchestrator
// tests never need a live commerce-platform client.
type CommercePlatform interface {
	CheckoutTotal(ctx context.Context, accessToken, checkoutToken string) (amountCents int64, currency string, err error)
	SubmitOrder(ctx context.Context, req OrderRequest) (orderID, orderNumber string, err error)
}

// OrderRequest carries everything the order-submitter payload needs
// (§4.7): total, currency, customer email, split count, tags, metafields.
type OrderRequest struct {
	AccessToken   string
	CheckoutToken string
	TotalCents    int64
	Currency      string
	CustomerEmail string
	TransactionID string
	PaymentCount  int
}

// AlertSink receives operator-facing notifications for post-capture
// anomalies (§7, §4.7): order submission failures, partial captures.
type AlertSink interface {
	Alert(ctx context.Context, kind, message string, fields map[string]string)
}

// Orchestrator wires the durable store, session cache, payment provider
// and commerce platform together.
type Orchestrator struct {
	db       *postgres.Client
	sessions session.Store
	provider provider.Provider
	platform CommercePlatform
	alerts   AlertSink
	pool     *Pool
	retry    provider.RetryConfig
}

// New builds an Orchestrator.
func New(db *postgres.Client, sessions session.Store, p provider.Provider, platform CommercePlatform, alerts AlertSink) *Orchestrator {
	return &Orchestrator{
		db:       db,
		sessions: sessions,
		provider: p,
		platform: platform,
		alerts:   alerts,
		pool:     NewPool(DefaultPoolConfig()),
		retry:    provider.DefaultRetryConfig(),
	}
}

// Close releases the fan-out worker pool.
func (o *Orchestrator) Close() {
	o.pool.Stop()
}

// InitResult is what init() hands back to the widget.
type InitResult struct {
	SessionID       string
	TransactionID   string
	TotalAmountCents int64
	Currency        string
	MaxCards        int
	MinAmountCents  int64
}

// Init looks up the store, finds or creates the transaction for this
// checkout, and opens a fresh session (§4.6 init()).
func (o *Orchestrator) Init(ctx context.Context, shopDomain, checkoutToken string, customer domain.CustomerMeta) (*InitResult, error) {
	if err := validate.ShopDomain(shopDomain); err != nil {
		return nil, err
	}
	if err := validate.CheckoutToken(checkoutToken); err != nil {
		return nil, err
	}

	store, err := o.db.Stores().GetByShopDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	if !store.Active {
		return nil, domain.ErrStoreInactive
	}

	txn, err := o.db.Transactions().GetByCheckoutToken(ctx, store.ID, checkoutToken)
	switch {
	case err == nil:
		if txn.Status == domain.TransactionCompleted {
			return nil, domain.ErrAlreadyCompleted
		}
	case err == domain.ErrTransactionNotFound:
		// Amount source of truth: fetch the authoritative total from the
		// commerce platform rather than trust a later widget-supplied value.
		totalCents, currency, platformErr := o.platform.CheckoutTotal(ctx, store.AccessToken, checkoutToken)
		if platformErr != nil {
			return nil, fmt.Errorf("fetch checkout total: %w", platformErr)
		}
		txn, err = domain.NewTransaction(uuid.NewString(), store.ID, checkoutToken, totalCents, currency, customer)
		if err != nil {
			return nil, err
		}
		if err := o.db.Transactions().Create(ctx, txn); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	sess := domain.NewSession(newSessionID(), txn.ID, shopDomain, checkoutToken)
	if err := o.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return &InitResult{
		SessionID:        sess.SessionID,
		TransactionID:    txn.ID,
		TotalAmountCents: txn.TotalAmountCents,
		Currency:         txn.Currency,
		MaxCards:         store.MaxCardsAllowed(),
		MinAmountCents:   store.MinAmountCents(),
	}, nil
}

// AddCardResult is what add_card() hands back to the widget.
type AddCardResult struct {
	ProviderIntentID string
	ClientSecret     string
	PaymentID        string
}

// AddCard authorizes one more card against the session's remaining
// balance (§4.6 add_card()).
func (o *Orchestrator) AddCard(ctx context.Context, sessionID string, amountCents int64) (*AddCardResult, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	store, err := o.storeForSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	txn, err := o.db.Transactions().GetByID(ctx, sess.TransactionID)
	if err != nil {
		return nil, err
	}

	if len(sess.Payments) >= store.MaxCardsAllowed() {
		return nil, domain.ErrTooManyCards
	}
	remaining := sess.RemainingBalance(txn.TotalAmountCents)
	if err := validate.Amount(amountCents, store.MinAmountCents(), remaining); err != nil {
		return nil, err
	}

	auth, err := provider.WithRetry(ctx, o.retry, func(ctx context.Context) (*provider.Authorization, error) {
		return o.provider.Authorize(ctx, provider.AuthorizationRequest{
			AmountCents: amountCents,
			Currency:    txn.Currency,
			Metadata:    map[string]string{"transaction_id": txn.ID, "card_index": fmt.Sprintf("%d", len(sess.Payments))},
		})
	})
	if err != nil {
		return nil, err
	}

	payment, err := domain.NewPayment(uuid.NewString(), txn.ID, auth.IntentID, amountCents)
	if err != nil {
		return nil, err
	}
	if err := o.db.Payments().Create(ctx, payment); err != nil {
		return nil, err
	}

	sess.AddPayment(domain.PendingPayment{PaymentID: payment.ID, ProviderIntentID: auth.IntentID, AmountCents: amountCents})
	if err := o.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return &AddCardResult{ProviderIntentID: auth.IntentID, ClientSecret: auth.ClientSecret, PaymentID: payment.ID}, nil
}

// RemoveCard cancels a pending card and drops it from the session
// (§4.6 remove_card()). Idempotent on already-final provider states (S5).
func (o *Orchestrator) RemoveCard(ctx context.Context, sessionID, providerIntentID string) error {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sessionHasIntent(sess, providerIntentID) {
		return domain.ErrPaymentNotFound
	}

	if err := o.provider.Cancel(ctx, providerIntentID); err != nil {
		return err
	}

	sess.RemovePayment(providerIntentID)
	return o.sessions.Put(ctx, sess)
}

func sessionHasIntent(s *domain.Session, intentID string) bool {
	for _, p := range s.Payments {
		if p.ProviderIntentID == intentID {
			return true
		}
	}
	return false
}

// CardConfirmation pairs an intent with the method the buyer used to
// confirm it, as submitted by complete-checkout (§6).
type CardConfirmation struct {
	ProviderIntentID string
	ProviderMethodID string
}

// CompleteResult is what complete() hands back on success.
type CompleteResult struct {
	OrderID     string
	OrderNumber string
}

// FailedCardError is returned when any card in the split fails to
// authorize or capture; it surfaces the offending card so the widget can
// highlight it (§6, S2).
type FailedCardError struct {
	ProviderIntentID string
	CardBrand        string
	CardLastFour     string
	Message          string
}

func (e *FailedCardError) Error() string {
	return fmt.Sprintf("card %s failed: %s", e.ProviderIntentID, e.Message)
}

// Complete runs the atomic fan-out: authorize every card, capture all or
// compensate, then hand off to order submission (§4.6 complete()).
func (o *Orchestrator) Complete(ctx context.Context, sessionID string, confirmations []CardConfirmation, customerEmail, idempotencyKey string) (*CompleteResult, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	txn, err := o.db.Transactions().GetByID(ctx, sess.TransactionID)
	if err != nil {
		return nil, err
	}

	if err := o.validateCompleteRequest(sess, confirmations, txn.TotalAmountCents); err != nil {
		return nil, err
	}

	store, err := o.storeForSession(ctx, sess)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		if txn.IdempotencyKey == idempotencyKey && txn.Status == domain.TransactionCompleted {
			return &CompleteResult{OrderID: txn.OrderID, OrderNumber: txn.OrderNumber}, nil
		}
		if txn.IdempotencyKey == "" {
			if err := o.db.Transactions().AssignIdempotencyKey(ctx, txn.ID, idempotencyKey); err != nil {
				return nil, err
			}
			txn.IdempotencyKey = idempotencyKey
		}
	}

	if err := txn.TransitionTo(domain.TransactionProcessing); err != nil {
		return nil, err
	}
	if err := o.db.Transactions().UpdateStatus(ctx, txn.ID, domain.TransactionProcessing, ""); err != nil {
		return nil, err
	}

	authorized, failure := o.authorizePhase(ctx, sess, confirmations)
	if failure != nil {
		o.compensate(ctx, authorized)
		reason := fmt.Sprintf("Payment failed: %s", failure.Message)
		o.db.Transactions().UpdateStatus(ctx, txn.ID, domain.TransactionFailed, reason)
		return nil, failure
	}

	captured, capErr := o.capturePhase(ctx, authorized)
	if capErr != nil {
		o.cancelUncaptured(ctx, authorized, captured)
		o.db.Transactions().UpdateStatus(ctx, txn.ID, domain.TransactionFailed, "Capture failed after authorization")
		o.alerts.Alert(ctx, "partial_capture", "a subset of captures succeeded and require manual reversal", map[string]string{
			"transaction_id": txn.ID,
		})
		return nil, capErr
	}

	if err := o.db.Transactions().UpdateStatus(ctx, txn.ID, domain.TransactionCompleted, ""); err != nil {
		return nil, err
	}

	orderID, orderNumber, err := o.platform.SubmitOrder(ctx, OrderRequest{
		AccessToken:   store.AccessToken,
		CheckoutToken: sess.CheckoutToken,
		TotalCents:    txn.TotalAmountCents,
		Currency:      txn.Currency,
		CustomerEmail: customerEmail,
		TransactionID: txn.ID,
		PaymentCount:  len(authorized),
	})
	if err != nil {
		// wrapped with a stack trace so the operator alert keeps the call
		// path that led to a captured-but-unsubmitted order (§9).
		wrapped := errors.Wrap(err, "order submission failed")
		o.alerts.Alert(ctx, "order_submission_failed", fmt.Sprintf("%+v", wrapped), map[string]string{"transaction_id": txn.ID})
	} else {
		o.db.Transactions().AssignOrder(ctx, txn.ID, orderID, orderNumber)
	}

	// A client-supplied idempotency key means a retry may still arrive on
	// this session; leave it to expire on its own TTL instead of deleting
	// it immediately so the replay check above has something to match.
	if idempotencyKey == "" {
		o.sessions.Delete(ctx, sessionID)
	}
	return &CompleteResult{OrderID: orderID, OrderNumber: orderNumber}, nil
}

func (o *Orchestrator) validateCompleteRequest(sess *domain.Session, confirmations []CardConfirmation, totalAmountCents int64) error {
	if len(confirmations) < domain.MinMaxCards || len(confirmations) > domain.MaxMaxCards {
		return domain.ErrTooManyCards
	}
	if len(confirmations) != len(sess.Payments) {
		return fmt.Errorf("%w: confirmation list must cover every session payment", domain.ErrInvalidInput)
	}
	for _, c := range confirmations {
		if !sessionHasIntent(sess, c.ProviderIntentID) {
			return fmt.Errorf("%w: unknown intent %s", domain.ErrInvalidInput, c.ProviderIntentID)
		}
	}
	// Data-model invariant 1: Σcaptured must equal total_amount_cents.
	// Each card individually passed validate.Amount against the remaining
	// balance at add_card time, but that doesn't guarantee every card in
	// the session was confirmed here — check the sum explicitly.
	if allocated := sess.AmountAllocated(); allocated != totalAmountCents {
		return fmt.Errorf("%w: allocated %d, want %d", domain.ErrAmountMismatch, allocated, totalAmountCents)
	}
	return nil
}

func (o *Orchestrator) storeForSession(ctx context.Context, sess *domain.Session) (*domain.Store, error) {
	return o.db.Stores().GetByShopDomain(ctx, sess.ShopDomain)
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}
