package provider

import (
	"context"
	"errors"
	"fmt"

	splitredis "github.com/plm/splitpay/storage/redis"
)

// Guarded wraps a Provider with a Redis-backed circuit breaker, so a
// provider outage trips the breaker for every server instance instead of
// each one independently burning through its own retry budget (§4.4, §5).
type Guarded struct {
	inner Provider
	cb    *splitredis.CircuitBreaker
	cfg   *splitredis.CircuitBreakerConfig
}

// NewGuarded wraps p with a circuit breaker named for the provider it
// fronts (e.g. "stripe").
func NewGuarded(p Provider, cb *splitredis.CircuitBreaker, name string) *Guarded {
	return &Guarded{inner: p, cb: cb, cfg: splitredis.DefaultCircuitBreakerConfig(name)}
}

// ErrCircuitOpen is returned in place of the provider's own error when the
// breaker has tripped, so callers (provider.WithRetry) see it as transient
// and back off rather than hammering a provider already known to be down.
var ErrCircuitOpen = errors.New("provider: circuit open")

func (g *Guarded) guard(ctx context.Context, call func(ctx context.Context) error) error {
	if err := g.cb.Allow(ctx, g.cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, ErrCircuitOpen)
	}

	err := call(ctx)
	if err != nil {
		if errors.Is(err, ErrTransient) {
			g.cb.RecordFailure(ctx, g.cfg)
		}
		return err
	}
	g.cb.RecordSuccess(ctx, g.cfg)
	return nil
}

func (g *Guarded) Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	var out *Authorization
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Authorize(ctx, req)
		return err
	})
	return out, err
}

func (g *Guarded) ConfirmAuthorization(ctx context.Context, intentID string) (*ConfirmedAuthorization, error) {
	var out *ConfirmedAuthorization
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.ConfirmAuthorization(ctx, intentID)
		return err
	})
	return out, err
}

func (g *Guarded) Capture(ctx context.Context, intentID string) (*CaptureResult, error) {
	var out *CaptureResult
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Capture(ctx, intentID)
		return err
	})
	return out, err
}

func (g *Guarded) Cancel(ctx context.Context, intentID string) error {
	return g.guard(ctx, func(ctx context.Context) error {
		return g.inner.Cancel(ctx, intentID)
	})
}

func (g *Guarded) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var out *RefundResult
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Refund(ctx, req)
		return err
	})
	return out, err
}

func (g *Guarded) VerifyWebhookSignature(payload []byte, signatureHeader string) (string, error) {
	return g.inner.VerifyWebhookSignature(payload, signatureHeader)
}
