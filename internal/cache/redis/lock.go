package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/polyclaw/engine/internal/domain"
)

//go:embed scripts/lock_release.lua
var lockReleaseLua string

// defaultLockTTL caps how long a crashed holder can wedge a key.
const defaultLockTTL = 30 * time.Second

// LockManager implements domain.LockManager with a token-guarded SET NX
// lock. The release script deletes the key only when the stored token is the
// caller's, so a holder can never release a lock that expired and was
// re-acquired by another party. The chain executor relies on this to keep one
// transaction in flight per signing wallet.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(lockReleaseLua),
	}
}

// Acquire takes the lock for key with the given TTL (zero falls back to
// defaultLockTTL) and returns an idempotent unlock function. Returns
// domain.ErrLockHeld when another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	token := uuid.NewString()
	lockKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled by the time the
			// lock is released.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.rdb, []string{lockKey}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
