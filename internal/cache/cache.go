// Package cache wraps the Redis client with the small set of primitives
// the engine's domain logic needs: TTL-bounded markers, distributed
// locks, and per-video cooldown/last-account tracking. Grounded on the
// escalation engine's use of Redis for ephemeral dedup state.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by Unlock when the lock token does not match
// (lost the lease, or someone else already released it).
var ErrLockNotHeld = errors.New("cache: lock not held")

type Cache struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// TryLock attempts to acquire a distributed lock with the given TTL,
// returning a token to pass to Unlock. ok is false if the lock is
// already held.
func (c *Cache) TryLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.key("lock", name), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	return ok, nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (c *Cache) Unlock(ctx context.Context, name, token string) error {
	res, err := unlockScript.Run(ctx, c.rdb, []string{c.key("lock", name)}, token).Result()
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", name, err)
	}
	if n, _ := res.(int64); n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// ExtendLock renews the TTL on a held lock, failing if the token no
// longer matches.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

func (c *Cache) ExtendLock(ctx context.Context, name, token string, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, c.rdb, []string{c.key("lock", name)}, token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extending lock %s: %w", name, err)
	}
	if n, _ := res.(int64); n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// SetLastAccountForVideo records which account last commented on a
// video, for the duplicate-content classifier's same-account-twice-in-a-row check.
func (c *Cache) SetLastAccountForVideo(ctx context.Context, videoID, accountID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key("last-account", videoID), accountID, ttl).Err(); err != nil {
		return fmt.Errorf("setting last account for video %s: %w", videoID, err)
	}
	return nil
}

// LastAccountForVideo returns ("", nil) when no marker is present.
func (c *Cache) LastAccountForVideo(ctx context.Context, videoID string) (string, error) {
	v, err := c.rdb.Get(ctx, c.key("last-account", videoID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading last account for video %s: %w", videoID, err)
	}
	return v, nil
}

// SetCooldown marks an account as resting for the given duration, e.g.
// after a proxy error, so the selector skips it without a DB round trip.
func (c *Cache) SetCooldown(ctx context.Context, accountID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key("cooldown", accountID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("setting cooldown for account %s: %w", accountID, err)
	}
	return nil
}

func (c *Cache) InCooldown(ctx context.Context, accountID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key("cooldown", accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking cooldown for account %s: %w", accountID, err)
	}
	return n > 0, nil
}

// SetAccountVideoCooldown marks an (account, video) pair as just
// dispatched, enforcing the dispatch batch's micro-cooldown so the same
// account never double-posts the same video inside one staggered batch.
func (c *Cache) SetAccountVideoCooldown(ctx context.Context, accountID, videoID string, ttl time.Duration) error {
	key := c.key("av-cooldown", accountID, videoID)
	if err := c.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("setting account/video cooldown for %s/%s: %w", accountID, videoID, err)
	}
	return nil
}

func (c *Cache) InAccountVideoCooldown(ctx context.Context, accountID, videoID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key("av-cooldown", accountID, videoID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking account/video cooldown for %s/%s: %w", accountID, videoID, err)
	}
	return n > 0, nil
}

// IncrementRoundRobinCursor advances and returns the round-robin pointer
// for a schedule's active account pool.
func (c *Cache) IncrementRoundRobinCursor(ctx context.Context, scheduleID string) (int64, error) {
	n, err := c.rdb.Incr(ctx, c.key("rr-cursor", scheduleID)).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing round-robin cursor for %s: %w", scheduleID, err)
	}
	return n, nil
}
