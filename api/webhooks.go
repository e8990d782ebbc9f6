package api

import (
	"io"
	"net/http"

	"github.com/plm/splitpay/reconcile"
)

// WebhookHandlers implements the unauthenticated, signature-verified
// `/api/webhooks/*` surface (§6). Both endpoints need the raw body for
// signature verification, so they must be wired ahead of any JSON-decoding
// middleware. Events are handed to the JetStream queue rather than
// processed inline, so a burst of provider events never blocks the HTTP
// handler that received them (§4.8); Stripe signatures are verified by the
// queue worker, not before publishing.
type WebhookHandlers struct {
	recon *reconcile.Reconciler
	queue *reconcile.Queue
}

// NewWebhookHandlers builds the webhook handler set.
func NewWebhookHandlers(recon *reconcile.Reconciler, queue *reconcile.Queue) *WebhookHandlers {
	return &WebhookHandlers{recon: recon, queue: queue}
}

// Shopify handles POST /api/webhooks/shopify.
func (h *WebhookHandlers) Shopify(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, CodeMissingParams, "failed to read request body")
		return
	}

	signature := r.Header.Get("X-Shopify-Hmac-Sha256")
	if !h.recon.VerifyShopifyHMAC(rawBody, signature) {
		writeError(w, CodeInvalidToken, "invalid webhook signature")
		return
	}

	topic := r.Header.Get("X-Shopify-Topic")
	shopDomain := r.Header.Get("X-Shopify-Shop-Domain")
	if err := h.queue.Publish(r.Context(), "shopify", topic, rawBody, "", shopDomain); err != nil {
		writeError(w, CodeInternalError, "failed to enqueue webhook")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Stripe handles POST /api/stripe/webhook. Signature verification happens
// downstream in the queue worker, which has the provider's own
// VerifyWebhookSignature — here the request is only enqueued.
func (h *WebhookHandlers) Stripe(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, CodeMissingParams, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := h.queue.Publish(r.Context(), "stripe", "", rawBody, signature, ""); err != nil {
		writeError(w, CodeInternalError, "failed to enqueue webhook")
		return
	}

	w.WriteHeader(http.StatusOK)
}
