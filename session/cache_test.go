package session

import (
	"context"
	"testing"
	"time"

	"github.com/plm/splitpay/domain"
)

func TestInProcessCache_PutGetDelete(t *testing.T) {
	c := NewInProcessCache(4, time.Hour)
	defer c.Close()
	ctx := context.Background()

	s := domain.NewSession("sess_1", "txn_1", "shop.myshopify.com", "checkout_token_0123456789abcdef01")
	if err := c.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != s.SessionID {
		t.Fatalf("got wrong session: %+v", got)
	}

	if err := c.Delete(ctx, "sess_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "sess_1"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestInProcessCache_ExpiredSessionReturnsExpiredError(t *testing.T) {
	c := NewInProcessCache(4, time.Hour)
	defer c.Close()
	ctx := context.Background()

	s := domain.NewSession("sess_2", "txn_1", "shop.myshopify.com", "checkout_token_0123456789abcdef01")
	s.ExpiresAt = time.Now().Add(-time.Minute)
	if err := c.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := c.Get(ctx, "sess_2"); err != domain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestInProcessCache_DistributesAcrossShards(t *testing.T) {
	c := NewInProcessCache(8, time.Hour)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		s := domain.NewSession(randID(i), "txn_1", "shop.myshopify.com", "checkout_token_0123456789abcdef01")
		if err := c.Put(ctx, s); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	nonEmpty := 0
	for _, sh := range c.shards {
		if len(sh.sessions) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		t.Fatalf("expected sessions spread across multiple shards, got %d non-empty", nonEmpty)
	}
}

func randID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for j := range b {
		b[j] = letters[(i*7+j*13)%len(letters)]
	}
	return "sess_" + string(b)
}
