// Package reconcile repairs local state against the payment provider and
// commerce platform: inbound webhook handling, a startup/periodic scan
// for stuck post-capture transactions, and GDPR redaction (§4.8).
package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/provider"
	"github.com/plm/splitpay/storage/postgres"
)

// AlertSink mirrors orchestrator.AlertSink so the reconciler's swallow-200
// path can still surface a monitored alert (§9 "Webhook swallow-200 policy").
type AlertSink interface {
	Alert(ctx context.Context, kind, message string, fields map[string]string)
}

// Reconciler handles both inbound webhook feeds.
type Reconciler struct {
	db       *postgres.Client
	provider provider.Provider
	alerts   AlertSink
	hmacKey  []byte
}

// New builds a Reconciler bound to the store, provider, and the
// merchant's Shopify HMAC secret used to verify platform webhooks.
func New(db *postgres.Client, p provider.Provider, alerts AlertSink, shopifyHMACKey string) *Reconciler {
	return &Reconciler{db: db, provider: p, alerts: alerts, hmacKey: []byte(shopifyHMACKey)}
}

// VerifyShopifyHMAC checks the X-Shopify-Hmac-Sha256 header against the
// raw request body using constant-time comparison (§4.8, §6).
func (r *Reconciler) VerifyShopifyHMAC(rawBody []byte, headerValue string) bool {
	mac := hmac.New(sha256.New, r.hmacKey)
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(headerValue)) == 1
}

// HandleProviderWebhook verifies a Stripe event's signature and processes
// it. Processing errors are raised as operator alerts and swallowed — the
// caller always replies 200 to avoid provider retry storms (§4.8, §7).
func (r *Reconciler) HandleProviderWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error {
	eventType, err := r.provider.VerifyWebhookSignature(rawBody, signatureHeader)
	if err != nil {
		return fmt.Errorf("invalid_signature: %w", err)
	}

	if procErr := r.dispatchProviderEvent(ctx, eventType, rawBody); procErr != nil {
		r.alerts.Alert(ctx, "webhook_processing_error", procErr.Error(), map[string]string{"event_type": eventType})
	}
	return nil
}

type stripeEventEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentIntentObject struct {
	ID           string `json:"id"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type chargeObject struct {
	PaymentIntent string `json:"payment_intent"`
	Refunds       struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	} `json:"refunds"`
}

func (r *Reconciler) dispatchProviderEvent(ctx context.Context, eventType string, rawBody []byte) error {
	var envelope stripeEventEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return fmt.Errorf("decode webhook envelope: %w", err)
	}

	switch eventType {
	case "payment_intent.succeeded":
		var obj paymentIntentObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return err
		}
		return r.reconcileCaptured(ctx, obj.ID)

	case "payment_intent.payment_failed":
		var obj paymentIntentObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return err
		}
		code, message := "unknown", "payment failed"
		if obj.LastPaymentError != nil {
			code, message = obj.LastPaymentError.Code, obj.LastPaymentError.Message
		}
		return r.reconcileFailed(ctx, obj.ID, code, message)

	case "charge.refunded":
		var obj chargeObject
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return err
		}
		return r.reconcileRefunds(ctx, obj)

	case "charge.dispute.created":
		r.alerts.Alert(ctx, "dispute_created", "a dispute was opened on a captured payment", nil)
		return nil

	default:
		return nil
	}
}

// reconcileCaptured handles the race between complete()'s synchronous
// capture and an async payment_intent.succeeded event (S6): the payment
// may already be captured, in which case this is a no-op idempotent write.
func (r *Reconciler) reconcileCaptured(ctx context.Context, intentID string) error {
	payment, err := r.db.Payments().GetByProviderIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentCaptured {
		return nil
	}
	if !payment.Status.CanTransition(domain.PaymentCaptured) {
		return fmt.Errorf("cannot transition %s -> captured for payment %s", payment.Status, payment.ID)
	}
	return r.db.Payments().UpdateStatus(ctx, payment.ID, domain.PaymentCaptured)
}

func (r *Reconciler) reconcileFailed(ctx context.Context, intentID, code, message string) error {
	payment, err := r.db.Payments().GetByProviderIntentID(ctx, intentID)
	if err != nil {
		return err
	}
	if payment.Status.IsTerminal() {
		return nil
	}
	return r.db.Payments().SetFailure(ctx, payment.ID, code, message)
}

func (r *Reconciler) reconcileRefunds(ctx context.Context, obj chargeObject) error {
	payment, err := r.db.Payments().GetByProviderIntentID(ctx, obj.PaymentIntent)
	if err != nil {
		return err
	}
	refunds, err := r.db.Refunds().ListByTransaction(ctx, payment.TransactionID)
	if err != nil {
		return err
	}
	byProviderID := make(map[string]*domain.Refund, len(refunds))
	for _, rf := range refunds {
		if rf.ProviderRefundID != "" {
			byProviderID[rf.ProviderRefundID] = rf
		}
	}
	for _, remote := range obj.Refunds.Data {
		local, ok := byProviderID[remote.ID]
		if !ok {
			continue
		}
		switch remote.Status {
		case "succeeded":
			if local.Status != domain.RefundSucceeded {
				r.db.Refunds().MarkSucceeded(ctx, local.ID, remote.ID)
			}
		case "failed":
			if local.Status != domain.RefundSucceeded {
				r.db.Refunds().MarkFailed(ctx, local.ID, "provider reported failure")
			}
		}
	}
	return nil
}

// PlatformWebhookEvent is the dispatched Shopify topic.
type PlatformWebhookEvent string

const (
	EventAppUninstalled    PlatformWebhookEvent = "app/uninstalled"
	EventOrdersCreate      PlatformWebhookEvent = "orders/create"
	EventOrdersRefunded    PlatformWebhookEvent = "orders/refunded"
	EventCustomersRedact   PlatformWebhookEvent = "customers/redact"
	EventShopRedact        PlatformWebhookEvent = "shop/redact"
	EventCustomersDataReq  PlatformWebhookEvent = "customers/data_request"
)

// HandlePlatformWebhook processes a verified Shopify topic. Like the
// provider path, it always succeeds from the caller's point of view —
// mutation failures are logged as operator alerts, not surfaced as 5xx.
func (r *Reconciler) HandlePlatformWebhook(ctx context.Context, topic PlatformWebhookEvent, shopDomain string) error {
	var err error
	switch topic {
	case EventAppUninstalled:
		err = r.uninstallStore(ctx, shopDomain)
	case EventCustomersRedact, EventShopRedact:
		err = r.redactStore(ctx, shopDomain)
	case EventOrdersCreate, EventOrdersRefunded, EventCustomersDataReq:
		// advisory logging only; no money-state mutation (§4.8).
	}
	if err != nil {
		r.alerts.Alert(ctx, "webhook_processing_error", err.Error(), map[string]string{"topic": string(topic)})
	}
	return nil
}

func (r *Reconciler) uninstallStore(ctx context.Context, shopDomain string) error {
	store, err := r.db.Stores().GetByShopDomain(ctx, shopDomain)
	if err != nil {
		return err
	}
	return r.db.Stores().SetActive(ctx, store.ID, false, nil)
}

// redactStore performs uninstall plus a purge of customer PII from every
// transaction belonging to the store, per Shopify's GDPR mandatory topics.
func (r *Reconciler) redactStore(ctx context.Context, shopDomain string) error {
	if err := r.uninstallStore(ctx, shopDomain); err != nil {
		return err
	}
	store, err := r.db.Stores().GetByShopDomain(ctx, shopDomain)
	if err != nil {
		return err
	}
	return r.db.RedactCustomerPII(ctx, store.ID)
}
