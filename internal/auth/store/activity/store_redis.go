package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeKeyPrefix = "session:active:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// MarkActive is idempotent; the marker lives as long as the token.
func (s *RedisStore) MarkActive(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := s.client.SetNX(ctx, activeKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("mark token active: %w", err)
	}
	return nil
}

func (s *RedisStore) IsActive(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, activeKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check token activity: %w", err)
	}
	return n > 0, nil
}
