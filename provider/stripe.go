package provider

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProvider is the manual-capture adapter over Stripe's PaymentIntent
// API. Each card in a split checkout gets its own PaymentIntent with
// CaptureMethod "manual", held until complete() decides whether every
// sibling card authorized successfully.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
}

// NewStripeProvider configures the global Stripe API key and returns an
// adapter bound to the given webhook signing secret.
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{secretKey: secretKey, webhookSecret: webhookSecret}
}

// Authorize creates a manual-capture PaymentIntent for one card's share.
func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return &Authorization{IntentID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// ConfirmAuthorization fetches the current intent state once the widget
// has confirmed payment client-side, surfacing the attached card.
func (p *StripeProvider) ConfirmAuthorization(ctx context.Context, intentID string) (*ConfirmedAuthorization, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}

	out := &ConfirmedAuthorization{IntentID: pi.ID, Status: string(pi.Status)}
	if pi.PaymentMethod != nil {
		out.MethodID = pi.PaymentMethod.ID
		if pi.PaymentMethod.Card != nil {
			out.CardBrand = string(pi.PaymentMethod.Card.Brand)
			out.CardLastFour = pi.PaymentMethod.Card.Last4
			out.CardExpMonth = int(pi.PaymentMethod.Card.ExpMonth)
			out.CardExpYear = int(pi.PaymentMethod.Card.ExpYear)
		}
	}
	// Only requires_capture/succeeded are safe to treat as authorized
	// (§4.4, §4.6 step 2). requires_action means the buyer never cleared a
	// 3DS challenge — fail closed rather than let it through as if held.
	// Any other status Stripe returns is classified as a failure too,
	// never silently accepted.
	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusSucceeded:
		return out, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return out, ErrInteractiveRequired
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		return out, ErrDeclined
	default:
		return out, fmt.Errorf("%w: unexpected intent status %q", ErrDeclined, pi.Status)
	}
}

// Capture converts a held authorization into an actual charge.
func (p *StripeProvider) Capture(ctx context.Context, intentID string) (*CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := paymentintent.Capture(intentID, params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return &CaptureResult{IntentID: pi.ID, Status: string(pi.Status)}, nil
}

// Cancel voids an authorization that will never be captured. Idempotent:
// canceling an already-canceled intent is treated as success.
func (p *StripeProvider) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(intentID, params)
	if err != nil {
		if se, ok := err.(*stripe.Error); ok && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return nil
		}
		return classifyStripeErr(err)
	}
	return nil
}

// Refund returns funds from an already-captured payment intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Amount:        stripe.Int64(req.AmountCents),
	}
	if req.Reason != "" {
		params.Reason = stripe.String(mapRefundReason(req.Reason))
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return &RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header using constant
// time HMAC comparison (handled internally by webhook.ConstructEvent) and
// returns the event type for dispatch.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signatureHeader string) (string, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, p.webhookSecret)
	if err != nil {
		return "", fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return string(event.Type), nil
}

func mapRefundReason(reason string) string {
	switch reason {
	case "fraudulent":
		return string(stripe.RefundReasonFraudulent)
	case "duplicate":
		return string(stripe.RefundReasonDuplicate)
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}

func classifyStripeErr(err error) error {
	se, ok := err.(*stripe.Error)
	if !ok {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	switch se.Type {
	case stripe.ErrorTypeCard:
		return fmt.Errorf("%w: %s", ErrDeclined, se.Msg)
	case stripe.ErrorTypeAPIConnection, stripe.ErrorTypeAPI, stripe.ErrorTypeRateLimit:
		return fmt.Errorf("%w: %s", ErrTransient, se.Msg)
	default:
		return fmt.Errorf("stripe error: %s", se.Msg)
	}
}
