package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements a sliding window rate limiter using Redis sorted
// sets, shared across every server instance so the widget's 60/min/IP and
// admin's 100/min/shop buckets (§6, wired in api/middleware.RateLimit)
// hold even when checkout traffic is spread across multiple processes.
type RateLimiter struct {
	rdb redis.UniversalClient
}

// RateLimitConfig defines one bucket: api/middleware.RateLimit builds Key
// from the client IP (widget surface) or the authenticated shop id (admin
// surface) so each caller gets its own independent window.
type RateLimitConfig struct {
	// Key identifies the bucket, e.g. "ratelimit:<client-ip>" or
	// "ratelimit:<shop-id>".
	Key string
	// Limit is the max requests allowed inside Window.
	Limit int64
	// Window is the sliding duration the limit applies over.
	Window time.Duration
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	// Allowed indicates if the request should be permitted
	Allowed bool
	// Remaining is the number of requests remaining in the current window
	Remaining int64
	// ResetAt is when the oldest request in the window will expire
	ResetAt time.Time
	// RetryAfter is the duration until the next request can be made (if denied)
	RetryAfter time.Duration
}

// NewRateLimiter binds a sliding window limiter to a shared Redis client;
// storage/redis.Client constructs one for the widget and admin surfaces to
// share.
func NewRateLimiter(rdb redis.UniversalClient) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// slidingWindowScript is the Lua script for atomic sliding window rate limiting
// This ensures all rate limit operations are atomic and consistent
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

-- Calculate the start of the sliding window
local window_start = now - window

-- Remove expired entries (outside the sliding window)
redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

-- Count current requests in the window
local current_count = redis.call('ZCARD', key)

-- Check if we're over the limit
if current_count >= limit then
    -- Get the oldest entry to calculate retry-after
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local retry_after = 0
    if oldest[2] then
        retry_after = oldest[2] + window - now
    end
    return {0, limit - current_count, retry_after}
end

-- Add the new request with current timestamp as score
redis.call('ZADD', key, now, member)

-- Set expiry on the key to auto-cleanup
redis.call('PEXPIRE', key, window)

-- Return success with remaining count
return {1, limit - current_count - 1, 0}
`

// Allow is the entry point api/middleware.RateLimit calls on every widget
// and admin request: it checks cfg's bucket under the rate limit and, if
// there's room, records this request in the same atomic script.
func (rl *RateLimiter) Allow(ctx context.Context, cfg *RateLimitConfig) (*RateLimitResult, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	windowMs := cfg.Window.Milliseconds()

	// Use timestamp + random suffix as unique member
	member := fmt.Sprintf("%d:%d", nowMs, now.UnixNano())

	// Execute the Lua script atomically
	result, err := rl.rdb.Eval(ctx, slidingWindowScript, []string{cfg.Key}, nowMs, windowMs, cfg.Limit, member).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Parse the result
	arr, ok := result.([]interface{})
	if !ok || len(arr) < 3 {
		return nil, fmt.Errorf("unexpected rate limit response format")
	}

	allowed, _ := arr[0].(int64)
	remaining, _ := arr[1].(int64)
	retryAfterMs, _ := arr[2].(int64)

	return &RateLimitResult{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		ResetAt:    now.Add(cfg.Window),
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
	}, nil
}

// Reset clears a caller's bucket entirely — an operator override for a
// shop that got wedged behind its own admin rate limit.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.rdb.Del(ctx, key).Err()
}

// GetRemaining reports a bucket's unused quota without consuming any of
// it, for surfacing rate-limit headroom on the admin dashboard.
func (rl *RateLimiter) GetRemaining(ctx context.Context, cfg *RateLimitConfig) (int64, error) {
	now := time.Now()
	windowStart := now.Add(-cfg.Window).UnixMilli()

	// Remove expired and count
	pipe := rl.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, cfg.Key, "-inf", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, cfg.Key)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, err
	}

	return cfg.Limit - countCmd.Val(), nil
}
