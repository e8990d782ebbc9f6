// Package session implements the short-lived checkout session cache:
// 30-minute TTL, never durable, backing add_card/remove_card/complete's
// in-flight card list (§3, §4.5).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/dgryski/go-rendezvous"

	"github.com/plm/splitpay/domain"
)

// Store is the interface both the in-process and Redis-backed caches
// satisfy, so the orchestrator never depends on which one is deployed.
type Store interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Put(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, sessionID string) error
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// InProcessCache is a sharded, TTL-expiring in-memory session store. Each
// session lands on one shard chosen by rendezvous hashing of its session
// id, so no cross-shard locking is needed for a given session.
type InProcessCache struct {
	shards []*shard
	hash   *rendezvous.Table
	ttl    time.Duration
	stopC  chan struct{}
}

// NewInProcessCache builds a cache with n shards and launches its reaper.
func NewInProcessCache(n int, ttl time.Duration) *InProcessCache {
	if n <= 0 {
		n = 16
	}
	if ttl <= 0 {
		ttl = domain.SessionTTL
	}

	members := make([]string, n)
	shards := make([]*shard, n)
	for i := 0; i < n; i++ {
		members[i] = string(rune('a' + i))
		shards[i] = &shard{sessions: make(map[string]*domain.Session)}
	}

	c := &InProcessCache{
		shards: shards,
		hash:   rendezvous.New(members, xxhashStr),
		ttl:    ttl,
		stopC:  make(chan struct{}),
	}
	go c.reap()
	return c
}

func (c *InProcessCache) shardFor(sessionID string) *shard {
	member := c.hash.Get(sessionID)
	for i, s := range c.shards {
		if string(rune('a'+i)) == member {
			return s
		}
	}
	return c.shards[0]
}

// Get returns a live session, or domain.ErrSessionNotFound/ErrSessionExpired.
func (c *InProcessCache) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	sh := c.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.Expired(time.Now()) {
		delete(sh.sessions, sessionID)
		return nil, domain.ErrSessionExpired
	}
	return s, nil
}

// Put inserts or overwrites a session.
func (c *InProcessCache) Put(_ context.Context, s *domain.Session) error {
	sh := c.shardFor(s.SessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[s.SessionID] = s
	return nil
}

// Delete removes a session, e.g. once complete() has consumed it.
func (c *InProcessCache) Delete(_ context.Context, sessionID string) error {
	sh := c.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, sessionID)
	return nil
}

// Close stops the background reaper.
func (c *InProcessCache) Close() {
	close(c.stopC)
}

func (c *InProcessCache) reap() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopC:
			return
		case now := <-ticker.C:
			for _, sh := range c.shards {
				sh.mu.Lock()
				for id, s := range sh.sessions {
					if s.Expired(now) {
						delete(sh.sessions, id)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}

// xxhashStr adapts a string-keyed hash into rendezvous.Table's expected
// uint64 hash function signature.
func xxhashStr(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
