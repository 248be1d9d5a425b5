package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failedAttemptsPrefix = "failed_attempts:"
	blockedIPPrefix      = "blocked_ip:"
)

// CounterStore keeps the ephemeral per-IP failed-attempt counters and the
// blocked-flag cache in Redis. Counters exist only here and are never
// persisted; the blocked flag is a cache over the durable ledger.
type CounterStore struct {
	redis redis.UniversalClient
}

// NewCounterStore creates a CounterStore backed by the given Redis client.
func NewCounterStore(client redis.UniversalClient) *CounterStore {
	return &CounterStore{redis: client}
}

// Increment atomically bumps the failed-attempt counter for an IP and
// refreshes its TTL. Refreshing on every call gives sliding-window
// semantics: the counter expires only after a full quiet window.
// Redis INCR guarantees two concurrent callers both count.
func (s *CounterStore) Increment(ctx context.Context, ip string, window time.Duration) (int, error) {
	key := failedAttemptsPrefix + ip

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter for %s: %w", ip, err)
	}

	if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
		return 0, fmt.Errorf("failed to set counter ttl for %s: %w", ip, err)
	}

	return int(count), nil
}

// FailedCount returns the current counter value. A missing key is zero,
// not an error.
func (s *CounterStore) FailedCount(ctx context.Context, ip string) (int, error) {
	count, err := s.redis.Get(ctx, failedAttemptsPrefix+ip).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read counter for %s: %w", ip, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// ClearFailedAttempts removes the counter for an IP.
func (s *CounterStore) ClearFailedAttempts(ctx context.Context, ip string) error {
	if err := s.redis.Del(ctx, failedAttemptsPrefix+ip).Err(); err != nil {
		return fmt.Errorf("failed to clear counter for %s: %w", ip, err)
	}
	return nil
}

// SetBlocked caches a positive block verdict. ttl <= 0 stores the flag
// without expiry (permanent block).
func (s *CounterStore) SetBlocked(ctx context.Context, ip string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, blockedIPPrefix+ip, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache blocked flag for %s: %w", ip, err)
	}
	return nil
}

// SetNotBlocked caches a negative verdict with a short TTL so that a manual
// unblock becomes visible without a long propagation delay.
func (s *CounterStore) SetNotBlocked(ctx context.Context, ip string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, blockedIPPrefix+ip, "0", ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache not-blocked flag for %s: %w", ip, err)
	}
	return nil
}

// IsBlocked returns the cached verdict for an IP. The second return value
// reports whether the cache held an entry at all; a miss means the caller
// must consult the ledger.
func (s *CounterStore) IsBlocked(ctx context.Context, ip string) (blocked bool, found bool, err error) {
	val, err := s.redis.Get(ctx, blockedIPPrefix+ip).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to read blocked flag for %s: %w", ip, err)
	}
	return val == "1", true, nil
}

// ClearBlocked drops the cached verdict for an IP.
func (s *CounterStore) ClearBlocked(ctx context.Context, ip string) error {
	if err := s.redis.Del(ctx, blockedIPPrefix+ip).Err(); err != nil {
		return fmt.Errorf("failed to clear blocked flag for %s: %w", ip, err)
	}
	return nil
}
