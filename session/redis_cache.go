package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plm/splitpay/domain"
)

// RedisCache is the horizontally-scaled alternative to InProcessCache: same
// Store interface, backed by Redis key expiry instead of a local reaper, so
// a session survives a restart of any one API instance (§4.5).
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = domain.SessionTTL
	}
	return &RedisCache{rdb: rdb, prefix: "splitpay:session:", ttl: ttl}
}

func (c *RedisCache) key(sessionID string) string {
	return c.prefix + sessionID
}

// Get returns a live session, or domain.ErrSessionNotFound if it has
// expired or never existed — Redis's own TTL makes ErrSessionExpired
// indistinguishable from not-found here, which is an acceptable
// simplification since both map to the same API error code.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	raw, err := c.rdb.Get(ctx, c.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Put inserts or overwrites a session with a fresh TTL.
func (c *RedisCache) Put(ctx context.Context, s *domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.rdb.Set(ctx, c.key(s.SessionID), raw, ttl).Err()
}

// Delete removes a session immediately.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, c.key(sessionID)).Err()
}
