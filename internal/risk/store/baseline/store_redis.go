package baseline

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"trustcore/internal/risk"
)

const keyPrefix = "risk:baseline:"

// RedisStore shares baselines across instances. Each subject has three
// sets: known IPs, known devices and usual hours.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func keys(subjectID string) (ips, devices, hours string) {
	base := keyPrefix + subjectID
	return base + ":ips", base + ":devices", base + ":hours"
}

func (s *RedisStore) Get(ctx context.Context, subjectID string) (*risk.Baseline, error) {
	ipKey, deviceKey, hourKey := keys(subjectID)
	pipe := s.client.Pipeline()
	ips := pipe.SMembers(ctx, ipKey)
	devices := pipe.SMembers(ctx, deviceKey)
	hours := pipe.SMembers(ctx, hourKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}

	b := &risk.Baseline{KnownIPs: ips.Val(), KnownDevices: devices.Val()}
	for _, raw := range hours.Val() {
		h, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt baseline hour %q: %w", raw, err)
		}
		b.UsualHours = append(b.UsualHours, h)
	}
	if len(b.KnownIPs) == 0 && len(b.KnownDevices) == 0 && len(b.UsualHours) == 0 {
		return nil, nil
	}
	slices.Sort(b.KnownIPs)
	slices.Sort(b.KnownDevices)
	slices.Sort(b.UsualHours)
	return b, nil
}

func (s *RedisStore) Observe(ctx context.Context, subjectID string, obs risk.Observation) error {
	ipKey, deviceKey, hourKey := keys(subjectID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if obs.IP != "" {
			pipe.SAdd(ctx, ipKey, obs.IP)
		}
		if obs.DeviceFingerprint != "" {
			pipe.SAdd(ctx, deviceKey, obs.DeviceFingerprint)
		}
		if obs.Hour >= 0 && obs.Hour < 24 {
			pipe.SAdd(ctx, hourKey, strconv.Itoa(obs.Hour))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("observe baseline: %w", err)
	}
	return nil
}
