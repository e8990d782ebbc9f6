// Package middleware provides cross-cutting HTTP concerns for the widget
// and admin surfaces: PASETO session-token auth, Redis-backed sliding
// window rate limiting, and same-origin enforcement for state-changing
// widget requests.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/plm/splitpay/auth"
	splitredis "github.com/plm/splitpay/storage/redis"
)

type contextKey string

const (
	claimsContextKey contextKey = "auth_claims"
)

// ClaimsFromContext retrieves the auth.Claims a prior RequireAuth call
// attached to the request context.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok
}

// RequireAuth verifies the `X-Session-Token` header against the expected
// audience and rejects the request with UNAUTHORIZED on any failure.
func RequireAuth(manager *auth.Manager, aud auth.Audience, onUnauthorized http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Session-Token")
			if token == "" {
				onUnauthorized(w, r)
				return
			}
			claims, err := manager.Verify(r.Context(), token, aud)
			if err != nil {
				onUnauthorized(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit enforces a per-key sliding window limit, rejecting over-quota
// requests with onLimited. keyFor derives the bucket key from the request
// (client IP for the widget surface, the operator's store id for admin).
func RateLimit(limiter *splitredis.RateLimiter, limit int64, window time.Duration, keyFor func(*http.Request) string, onLimited http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := &splitredis.RateLimitConfig{
				Key:    "ratelimit:" + keyFor(r),
				Limit:  limit,
				Window: window,
			}
			result, err := limiter.Allow(r.Context(), cfg)
			if err != nil {
				// A rate-limiter outage degrades to allowing the request
				// through rather than blocking checkout traffic entirely.
				next.ServeHTTP(w, r)
				return
			}
			if !result.Allowed {
				onLimited(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the caller's address, preferring a proxy-set header
// over RemoteAddr since the widget typically sits behind a CDN.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// RequireSameOrigin rejects widget requests whose Origin header doesn't
// match the configured storefront app URL, a lightweight CSRF guard for
// the cookie-free widget endpoints.
func RequireSameOrigin(appURL string, onForbidden http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && appURL != "" && origin != appURL {
				onForbidden(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
