package domain

import "time"

// SessionTTL is how long a checkout session lives before its reads return
// not-found (§4.5).
const SessionTTL = 30 * time.Minute

// PendingPayment is one card the widget has started but not yet submitted
// through complete() (§3 Session).
type PendingPayment struct {
	PaymentID        string
	ProviderIntentID string
	AmountCents      int64
}

// Session is the short-lived, non-durable record coordinating a buyer's
// card additions during one widget lifecycle (§3).
type Session struct {
	SessionID     string
	TransactionID string
	ShopDomain    string
	CheckoutToken string
	Payments      []PendingPayment
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// NewSession creates a session with the default 30-minute TTL.
func NewSession(sessionID, transactionID, shopDomain, checkoutToken string) *Session {
	now := time.Now()
	return &Session{
		SessionID:     sessionID,
		TransactionID: transactionID,
		ShopDomain:    shopDomain,
		CheckoutToken: checkoutToken,
		Payments:      make([]PendingPayment, 0, MaxMaxCards),
		CreatedAt:     now,
		ExpiresAt:     now.Add(SessionTTL),
	}
}

// Expired reports whether the session's TTL has elapsed as of now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AddPayment appends a newly-authorized-pending card to the session.
func (s *Session) AddPayment(p PendingPayment) {
	s.Payments = append(s.Payments, p)
}

// RemovePayment removes a pending card by its provider intent id. Reports
// whether it was found.
func (s *Session) RemovePayment(providerIntentID string) bool {
	for i, p := range s.Payments {
		if p.ProviderIntentID == providerIntentID {
			s.Payments = append(s.Payments[:i], s.Payments[i+1:]...)
			return true
		}
	}
	return false
}

// AmountAllocated sums the amounts of all pending cards in the session.
func (s *Session) AmountAllocated() int64 {
	var total int64
	for _, p := range s.Payments {
		total += p.AmountCents
	}
	return total
}

// RemainingBalance returns total - already-allocated, per add_card's
// precondition 3 (§4.6).
func (s *Session) RemainingBalance(totalAmountCents int64) int64 {
	return totalAmountCents - s.AmountAllocated()
}
