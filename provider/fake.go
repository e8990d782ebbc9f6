package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Fake is an in-memory Provider used by orchestrator tests (§4.6
// scenarios) to drive specific card outcomes without a network call.
type Fake struct {
	mu       sync.Mutex
	seq      atomic.Int64
	intents  map[string]*fakeIntent
	declines map[string]bool // intent ids set to decline
}

type fakeIntent struct {
	amountCents int64
	status      string
	captured    bool
}

// NewFake returns an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		intents:  make(map[string]*fakeIntent),
		declines: make(map[string]bool),
	}
}

// DeclineNext makes every later ConfirmAuthorization and Capture call for
// the given intent id fail with ErrDeclined.
func (f *Fake) DeclineNext(intentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declines[intentID] = true
}

func (f *Fake) Authorize(_ context.Context, req AuthorizationRequest) (*Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("pi_fake_%d", f.seq.Add(1))
	f.intents[id] = &fakeIntent{amountCents: req.AmountCents, status: "requires_capture"}
	return &Authorization{IntentID: id, ClientSecret: id + "_secret", Status: "requires_capture"}, nil
}

func (f *Fake) ConfirmAuthorization(_ context.Context, intentID string) (*ConfirmedAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.intents[intentID]
	if !ok {
		return nil, ErrDeclined
	}
	if f.declines[intentID] {
		it.status = "requires_payment_method"
		return &ConfirmedAuthorization{IntentID: intentID, Status: it.status}, ErrDeclined
	}
	return &ConfirmedAuthorization{
		IntentID: intentID, MethodID: "pm_fake_" + intentID,
		CardBrand: "visa", CardLastFour: "4242", CardExpMonth: 12, CardExpYear: 2030,
		Status: it.status,
	}, nil
}

func (f *Fake) Capture(_ context.Context, intentID string) (*CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.intents[intentID]
	if !ok {
		return nil, ErrDeclined
	}
	if f.declines[intentID] {
		return nil, ErrDeclined
	}
	it.captured = true
	it.status = "succeeded"
	return &CaptureResult{IntentID: intentID, Status: "succeeded"}, nil
}

func (f *Fake) Cancel(_ context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.intents[intentID]; ok {
		it.status = "canceled"
	}
	return nil
}

func (f *Fake) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.intents[req.IntentID]
	if !ok || !it.captured {
		return nil, fmt.Errorf("cannot refund uncaptured intent %s", req.IntentID)
	}
	return &RefundResult{RefundID: "re_fake_" + req.IntentID, Status: "succeeded"}, nil
}

func (f *Fake) VerifyWebhookSignature(_ []byte, signatureHeader string) (string, error) {
	if signatureHeader == "" {
		return "", fmt.Errorf("missing signature")
	}
	return "payment_intent.succeeded", nil
}
