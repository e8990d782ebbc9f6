// RateLimit needs a real Redis instance and has no test here; see
// storage/redis for the sliding-window script it wraps. This file sticks
// to the middleware that's plain net/http plumbing: RequireAuth,
// RequireSameOrigin and ClientIP.
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/plm/splitpay/auth"
)

func TestRequireAuth_RejectsMissingToken(t *testing.T) {
	manager := auth.NewManager()
	rejected := false
	onUnauthorized := func(w http.ResponseWriter, r *http.Request) { rejected = true }

	handler := RequireAuth(manager, auth.AudienceOperator, onUnauthorized)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !rejected {
		t.Fatal("expected onUnauthorized to fire for a missing token")
	}
}

func TestRequireAuth_RejectsWrongAudience(t *testing.T) {
	manager := auth.NewManager()
	token, err := manager.Issue("session_1", "store_1", auth.AudienceWidget, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rejected := false
	onUnauthorized := func(w http.ResponseWriter, r *http.Request) { rejected = true }
	handler := RequireAuth(manager, auth.AudienceOperator, onUnauthorized)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("X-Session-Token", token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !rejected {
		t.Fatal("expected onUnauthorized to fire for a widget token on an operator route")
	}
}

func TestRequireAuth_AttachesClaimsOnSuccess(t *testing.T) {
	manager := auth.NewManager()
	token, err := manager.Issue("session_1", "store_1", auth.AudienceOperator, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var gotClaims *auth.Claims
	handler := RequireAuth(manager, auth.AudienceOperator, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("onUnauthorized should not fire")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in context")
		}
		gotClaims = claims
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("X-Session-Token", token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotClaims == nil || gotClaims.StoreID != "store_1" {
		t.Fatalf("unexpected claims: %+v", gotClaims)
	}
}

func TestRequireSameOrigin_RejectsMismatchedOrigin(t *testing.T) {
	forbidden := false
	handler := RequireSameOrigin("https://app.example.com", func(w http.ResponseWriter, r *http.Request) {
		forbidden = true
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/widget/init", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !forbidden {
		t.Fatal("expected a mismatched Origin to be rejected")
	}
}

func TestRequireSameOrigin_AllowsMatchingOrEmptyOrigin(t *testing.T) {
	calls := 0
	handler := RequireSameOrigin("https://app.example.com", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("onForbidden should not fire")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))

	matching := httptest.NewRequest(http.MethodPost, "/api/widget/init", nil)
	matching.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(httptest.NewRecorder(), matching)

	noOrigin := httptest.NewRequest(http.MethodPost, "/api/widget/init", nil)
	handler.ServeHTTP(httptest.NewRecorder(), noOrigin)

	if calls != 2 {
		t.Fatalf("expected both requests to pass through, got %d calls", calls)
	}
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/widget/init", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")

	if got := ClientIP(req); got != "203.0.113.5" {
		t.Fatalf("expected forwarded address, got %s", got)
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/widget/init", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	if got := ClientIP(req); got != "10.0.0.1:1234" {
		t.Fatalf("expected remote addr, got %s", got)
	}
}
