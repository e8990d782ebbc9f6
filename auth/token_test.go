package auth

import (
	"context"
	"testing"
	"time"
)

func TestManager_IssueVerify_RoundTrips(t *testing.T) {
	m := NewManager()
	token, err := m.Issue("session_1", "store_1", AudienceWidget, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := m.Verify(context.Background(), token, AudienceWidget)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "session_1" || claims.StoreID != "store_1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestManager_Verify_RejectsWrongAudience(t *testing.T) {
	m := NewManager()
	token, err := m.Issue("session_1", "store_1", AudienceWidget, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Verify(context.Background(), token, AudienceOperator); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestManager_Verify_RejectsExpiredToken(t *testing.T) {
	m := NewManager()
	token, err := m.Issue("session_1", "store_1", AudienceWidget, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Verify(context.Background(), token, AudienceWidget); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestManager_Verify_RejectsTamperedToken(t *testing.T) {
	m := NewManager()
	token, err := m.Issue("session_1", "store_1", AudienceWidget, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := m.Verify(context.Background(), tampered, AudienceWidget); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
