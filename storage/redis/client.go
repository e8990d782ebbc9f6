// Package redis provides Redis Sentinel integration for splitpay's
// ephemeral state: session cache entries, sliding-window rate limits, and
// the circuit breaker guarding outbound provider calls.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config points at the Redis deployment backing session cache entries
// (§4.5), the widget/admin rate-limit buckets (§6), and the circuit
// breaker guarding outbound Stripe calls (provider.Guarded). Production
// talks to a Sentinel cluster so a master failover doesn't drop an
// in-flight checkout session; SentinelAddrs/MasterName select that path,
// Addr is the standalone fallback for local development.
type Config struct {
	// Sentinel configuration
	MasterName    string
	SentinelAddrs []string

	// Standalone configuration (fallback)
	Addr     string
	Password string
	DB       int

	// Pool configuration
	PoolSize     int
	MinIdleConns int

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the local-development configuration: a standalone
// instance on localhost with no Sentinel failover, used by tests and
// single-process runs rather than the production Sentinel deployment.
func DefaultConfig() *Config {
	return &Config{
		MasterName:    "",
		SentinelAddrs: nil,
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      100,
		MinIdleConns:  10,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
	}
}

// Client is the shared handle the server wires into session storage,
// api/middleware.RateLimit, and provider.Guarded: one Redis connection
// pool backing all three concerns, rather than each opening its own.
type Client struct {
	rdb            redis.UniversalClient
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// NewClient dials Redis (Sentinel if cfg names a master, standalone
// otherwise), verifies the connection with a Ping, and wires up the rate
// limiter and circuit breaker that share this connection.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	var rdb redis.UniversalClient

	// Try Sentinel first, fallback to standalone
	if len(cfg.SentinelAddrs) > 0 && cfg.MasterName != "" {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	// Verify connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		rdb:            rdb,
		rateLimiter:    NewRateLimiter(rdb),
		circuitBreaker: NewCircuitBreaker(rdb),
	}

	return client, nil
}

// Close releases the underlying connection pool, called once on server
// shutdown alongside the Postgres pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis exposes the raw client for the session cache (§4.5), which needs
// direct GET/SET/DEL access that RateLimiter/CircuitBreaker don't cover.
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// RateLimiter returns the limiter api/middleware.RateLimit calls for the
// widget (60/min/IP) and admin (100/min/shop) buckets.
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// CircuitBreaker returns the breaker provider.Guarded trips open when
// Stripe calls start failing, so every server instance backs off together.
func (c *Client) CircuitBreaker() *CircuitBreaker {
	return c.circuitBreaker
}
