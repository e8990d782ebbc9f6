package provider

import (
	"context"
	"errors"
	"testing"

	splitredis "github.com/plm/splitpay/storage/redis"
)

// flakyProvider always fails Authorize with ErrTransient so the circuit
// breaker trips after DefaultCircuitBreakerConfig's failure threshold.
type flakyProvider struct{}

func (flakyProvider) Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	return nil, ErrTransient
}
func (flakyProvider) ConfirmAuthorization(ctx context.Context, intentID string) (*ConfirmedAuthorization, error) {
	return nil, ErrTransient
}
func (flakyProvider) Capture(ctx context.Context, intentID string) (*CaptureResult, error) {
	return nil, ErrTransient
}
func (flakyProvider) Cancel(ctx context.Context, intentID string) error { return ErrTransient }
func (flakyProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	return nil, ErrTransient
}
func (flakyProvider) VerifyWebhookSignature(payload []byte, signatureHeader string) (string, error) {
	return "", nil
}

func newTestGuarded(t *testing.T, name string) *Guarded {
	t.Helper()
	ctx := context.Background()

	rdb, err := splitredis.NewClient(ctx, splitredis.DefaultConfig())
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	cb := rdb.CircuitBreaker()
	cfg := splitredis.DefaultCircuitBreakerConfig(name)
	t.Cleanup(func() { cb.Reset(ctx, cfg) })

	return NewGuarded(flakyProvider{}, cb, name)
}

// TestGuarded_TripsCircuitAfterThreshold mirrors the outage scenario the
// breaker exists for: once enough ErrTransient failures land within the
// window, further calls fail fast with ErrCircuitOpen instead of each one
// burning the provider's own retry budget.
func TestGuarded_TripsCircuitAfterThreshold(t *testing.T) {
	ctx := context.Background()
	name := "guarded-test-" + t.Name()
	g := newTestGuarded(t, name)

	cfg := splitredis.DefaultCircuitBreakerConfig(name)
	for i := int64(0); i < cfg.FailureThreshold; i++ {
		if _, err := g.Authorize(ctx, AuthorizationRequest{}); !errors.Is(err, ErrTransient) {
			t.Fatalf("call %d: expected ErrTransient, got %v", i, err)
		}
	}

	_, err := g.Authorize(ctx, AuthorizationRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit to be open after %d failures, got %v", cfg.FailureThreshold, err)
	}
}

// TestGuarded_PassesThroughVerifyWebhookSignature confirms the one method
// that isn't call-guarded (it does no network I/O) reaches the inner
// provider unconditionally.
func TestGuarded_PassesThroughVerifyWebhookSignature(t *testing.T) {
	g := newTestGuarded(t, "guarded-test-"+t.Name())

	if _, err := g.VerifyWebhookSignature([]byte("payload"), "sig"); err != nil {
		t.Fatalf("VerifyWebhookSignature: %v", err)
	}
}
