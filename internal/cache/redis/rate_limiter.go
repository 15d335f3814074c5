package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyclaw/engine/internal/domain"
)

//go:embed scripts/token_bucket.lua
var tokenBucketLua string

// waitPollInterval is the retry interval used by Wait.
const waitPollInterval = 50 * time.Millisecond

// Limit describes a token bucket: Rate tokens refilled per second up to
// Burst capacity.
type Limit struct {
	Rate  float64
	Burst int
}

// RateLimiter implements domain.RateLimiter with per-key token buckets kept
// in Redis, so every process sharing the Redis instance draws from the same
// budget.
type RateLimiter struct {
	rdb         *redis.Client
	tokenBucket *redis.Script
	limits      map[string]Limit
	fallback    Limit
}

// NewRateLimiter creates a RateLimiter backed by the given Client. limits
// maps keys (e.g. "clob") to their buckets; keys without an entry use
// fallback. A zero fallback defaults to 10 req/s with a burst of 20.
func NewRateLimiter(c *Client, limits map[string]Limit, fallback Limit) *RateLimiter {
	if fallback.Rate <= 0 {
		fallback = Limit{Rate: 10, Burst: 20}
	}
	if fallback.Burst < 1 {
		fallback.Burst = 1
	}
	return &RateLimiter{
		rdb:         c.Underlying(),
		tokenBucket: redis.NewScript(tokenBucketLua),
		limits:      limits,
		fallback:    fallback,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow reports whether a request for the key is permitted right now,
// consuming a token when it is.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	limit, ok := rl.limits[key]
	if !ok {
		limit = rl.fallback
	}

	result, err := rl.tokenBucket.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		time.Now().UnixMicro(),
		limit.Rate,
		limit.Burst,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return result == 1, nil
}

// Wait blocks until a token for the key is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
