package window

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"trustcore/internal/ratelimit/models"
)

const (
	fieldCount = "count"
	fieldStart = "start"

	maxTxRetries = 10
)

// ErrContention is returned when optimistic transactions keep losing the
// WATCH race on a single key.
var ErrContention = errors.New("rate window: too much contention")

// RedisStore keeps each window as a hash {count, start} with a TTL that ends
// with the window, so instances behind a load balancer share counters.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Hit runs the read-check-increment under WATCH/MULTI/EXEC and retries when
// another writer touched the key between read and commit.
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*models.HitResult, error) {
	for range maxTxRetries {
		var res models.HitResult
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			w, err := readWindow(ctx, tx, key)
			if err != nil {
				return err
			}
			if w.Expired(now, window) {
				w = models.Window{Start: now}
			}
			res = models.HitResult{Allowed: w.Count < limit, Count: w.Count, Start: w.Start}
			if !res.Allowed {
				return nil
			}
			w.Count++
			res.Count = w.Count

			ttl := w.Start.Add(window).Sub(now)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldCount, w.Count, fieldStart, w.Start.UnixNano())
				pipe.PExpire(ctx, key, ttl)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return &res, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("rate window %s: %w", key, err)
	}
	return nil, ErrContention
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func readWindow(ctx context.Context, tx *redis.Tx, key string) (models.Window, error) {
	vals, err := tx.HMGet(ctx, key, fieldCount, fieldStart).Result()
	if err != nil {
		return models.Window{}, err
	}
	countRaw, ok1 := vals[0].(string)
	startRaw, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return models.Window{}, nil
	}
	count, err := strconv.Atoi(countRaw)
	if err != nil {
		return models.Window{}, fmt.Errorf("corrupt count: %w", err)
	}
	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		return models.Window{}, fmt.Errorf("corrupt start: %w", err)
	}
	return models.Window{Count: count, Start: time.Unix(0, start)}, nil
}
