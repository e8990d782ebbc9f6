package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/plm/splitpay/api/middleware"
	"github.com/plm/splitpay/auth"
	"github.com/plm/splitpay/opsfeed"
	"github.com/plm/splitpay/orchestrator"
	"github.com/plm/splitpay/receipts"
	"github.com/plm/splitpay/reconcile"
	"github.com/plm/splitpay/storage/postgres"
	splitredis "github.com/plm/splitpay/storage/redis"
)

// Deps bundles everything the router needs to construct every surface's
// handlers. Built once in cmd/server/main.go.
type Deps struct {
	DB           *postgres.Client
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *reconcile.Reconciler
	Queue        *reconcile.Queue
	AuthManager  *auth.Manager
	RateLimiter  *splitredis.RateLimiter
	Receipts     *receipts.Generator
	OpsFeed      *opsfeed.Hub
	AppURL       string
}

// NewRouter assembles the full `/api/*` surface: widget, admin, OAuth and
// webhooks, each with the middleware stack §5/§6 calls for.
func NewRouter(d Deps) http.Handler {
	widget := NewWidgetHandlers(d.Orchestrator)
	admin := NewAdminHandlers(d.DB, d.Orchestrator, d.Receipts)
	webhooks := NewWebhookHandlers(d.Reconciler, d.Queue)
	oauthHandlers := NewOAuthHandlers(d.DB)

	onUnauthorized := func(w http.ResponseWriter, r *http.Request) {
		writeError(w, CodeUnauthorized, "missing or invalid session token")
	}
	onForbidden := func(w http.ResponseWriter, r *http.Request) {
		writeError(w, CodeForbidden, "origin not allowed")
	}
	onRateLimited := func(w http.ResponseWriter, r *http.Request) {
		writeError(w, CodeRateLimitExceeded, "too many requests")
	}

	widgetRateLimit := middleware.RateLimit(d.RateLimiter, 60, time.Minute, middleware.ClientIP, onRateLimited)
	sameOrigin := middleware.RequireSameOrigin(d.AppURL, onForbidden)

	widgetMux := http.NewServeMux()
	widgetMux.HandleFunc("/api/widget/init", widget.Init)
	widgetMux.HandleFunc("/api/widget/create-payment-intent", widget.CreatePaymentIntent)
	widgetMux.HandleFunc("/api/widget/remove-payment", widget.RemovePayment)
	widgetMux.HandleFunc("/api/widget/complete-checkout", widget.CompleteCheckout)
	widgetHandler := widgetRateLimit(sameOrigin(widgetMux))

	adminRateLimit := middleware.RateLimit(d.RateLimiter, 100, time.Minute, adminRateLimitKey, onRateLimited)
	requireOperatorAuth := middleware.RequireAuth(d.AuthManager, auth.AudienceOperator, onUnauthorized)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/api/admin/stats", admin.Stats)
	adminMux.HandleFunc("/api/admin/transactions", admin.ListTransactions)
	adminMux.HandleFunc("/api/admin/transactions/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/admin/transactions/")
		switch {
		case id == "":
			admin.ListTransactions(w, r)
		case strings.HasSuffix(id, "/receipt"):
			admin.CaptureReceipt(w, r, strings.TrimSuffix(id, "/receipt"))
		case strings.HasSuffix(id, "/refund-receipt"):
			admin.RefundReceipt(w, r, strings.TrimSuffix(id, "/refund-receipt"))
		default:
			admin.GetTransaction(w, r, id)
		}
	})
	adminMux.HandleFunc("/api/admin/refund", admin.Refund)
	adminMux.HandleFunc("/api/admin/stores", admin.ListStores)
	adminMux.HandleFunc("/api/admin/settings", admin.UpdateSettings)
	adminHandler := requireOperatorAuth(adminRateLimit(adminMux))

	opsFeedHandler := requireOperatorAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storeID := ""
		if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
			storeID = claims.StoreID
		}
		d.OpsFeed.ServeHTTP(w, r, storeID)
	}))

	mux := http.NewServeMux()
	mux.Handle("/api/widget/", widgetHandler)
	mux.Handle("/api/admin/", adminHandler)
	mux.Handle("/api/ops/feed", opsFeedHandler)
	mux.HandleFunc("/api/auth/install", oauthHandlers.Install)
	mux.HandleFunc("/api/auth/callback", oauthHandlers.Callback)
	mux.HandleFunc("/api/webhooks/shopify", webhooks.Shopify)
	mux.HandleFunc("/api/stripe/webhook", webhooks.Stripe)

	return mux
}

// adminRateLimitKey buckets the admin surface per shop rather than per IP,
// since operator tooling is typically proxied through a shared dashboard host.
func adminRateLimitKey(r *http.Request) string {
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		return claims.StoreID
	}
	return middleware.ClientIP(r)
}
