// Package provider abstracts the card network behind a manual-capture
// authorization flow: authorize, capture, cancel, refund, and webhook
// signature verification (§4.4). The orchestrator only ever talks to the
// Provider interface, never to a concrete SDK, so add_card/complete/refund
// can run against either a real network or the in-memory Fake in tests.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrDeclined means the card network rejected the authorization or
// capture — a terminal, non-retryable outcome for that one card.
var ErrDeclined = errors.New("card declined")

// ErrTransient means the call failed for a reason that may succeed on
// retry (timeout, 5xx, rate limit).
var ErrTransient = errors.New("provider transiently unavailable")

// ErrInteractiveRequired means the intent is stuck waiting on a buyer-side
// interactive step (3DS challenge) that complete() has no way to drive to
// completion — fail-closed rather than treat it as authorized (§4.4, §4.6).
var ErrInteractiveRequired = errors.New("card requires an interactive confirmation step")

// AuthorizationRequest describes one card's manual-capture authorization.
type AuthorizationRequest struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// Authorization is the provider's response to a successful authorize call.
type Authorization struct {
	IntentID     string
	ClientSecret string
	Status       string
}

// ConfirmedAuthorization is returned once the buyer's card has actually
// been charged down to a hold (requires_capture in Stripe's vocabulary).
type ConfirmedAuthorization struct {
	IntentID     string
	MethodID     string
	CardBrand    string
	CardLastFour string
	CardExpMonth int
	CardExpYear  int
	Status       string
}

// CaptureResult is the provider's response to a capture call.
type CaptureResult struct {
	IntentID string
	Status   string
}

// RefundRequest describes a partial or full refund of a captured payment.
type RefundRequest struct {
	IntentID    string
	AmountCents int64
	Reason      string
}

// RefundResult is the provider's response to a refund call.
type RefundResult struct {
	RefundID string
	Status   string
}

// Provider is the manual-capture card-network adapter the orchestrator
// depends on (§4.4, §4.6).
type Provider interface {
	// Authorize creates a manual-capture payment intent for one card
	// (add_card step 2).
	Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error)

	// ConfirmAuthorization polls or finalizes a client-confirmed intent,
	// returning the card details once the hold is in place.
	ConfirmAuthorization(ctx context.Context, intentID string) (*ConfirmedAuthorization, error)

	// Capture converts a held authorization into an actual charge
	// (complete() step 3).
	Capture(ctx context.Context, intentID string) (*CaptureResult, error)

	// Cancel voids an authorization that was never captured, the
	// compensating action when a sibling card fails to capture
	// (complete() step 4).
	Cancel(ctx context.Context, intentID string) error

	// Refund returns funds from an already-captured payment (refund()).
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// VerifyWebhookSignature checks a raw webhook body against its
	// signature header and returns the parsed event type.
	VerifyWebhookSignature(payload []byte, signatureHeader string) (eventType string, err error)
}

// RetryConfig bounds the retry/backoff behavior demanded for transient
// provider errors (§4.4: at most 2 retries, ~30s total budget).
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

// DefaultRetryConfig matches the documented retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, Backoff: 500 * time.Millisecond, Timeout: 30 * time.Second}
}

// WithRetry wraps a provider call with bounded exponential backoff,
// retrying only on ErrTransient.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var zero T
	backoff := cfg.Backoff
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil || !errors.Is(err, ErrTransient) || attempt >= cfg.MaxRetries {
			return result, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
