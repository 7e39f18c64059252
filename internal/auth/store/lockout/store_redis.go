package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failuresKeyPrefix = "lockout:failures:"
	lockedKeyPrefix   = "lockout:locked:"
)

// RedisStore keeps counters and locks in Redis so every instance sees the
// same failures. Both keys carry TTLs; nothing needs sweeping.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// RecordFailure runs INCR and EXPIRE NX in one transaction, so the counter
// always carries the window TTL set by its first failure. A counter left
// without a TTL gets one on the next failure.
func (s *RedisStore) RecordFailure(ctx context.Context, subjectID string, window time.Duration) (int, error) {
	key := failuresKeyPrefix + subjectID
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Lock(ctx context.Context, subjectID string, cooldown time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lockedKeyPrefix+subjectID, "1", cooldown)
		pipe.Del(ctx, failuresKeyPrefix+subjectID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("lock subject: %w", err)
	}
	return nil
}

func (s *RedisStore) LockedFor(ctx context.Context, subjectID string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, lockedKeyPrefix+subjectID).Result()
	if err != nil {
		return 0, fmt.Errorf("check lock: %w", err)
	}
	// -2 missing, -1 no expiry; neither should count as locked
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Clear(ctx context.Context, subjectID string) error {
	if err := s.client.Del(ctx, failuresKeyPrefix+subjectID).Err(); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	return nil
}
