package revocation

import (
	"context"
	"sync"
	"time"
)

// InMemoryTRL is a single-instance revocation list for development and
// tests.
type InMemoryTRL struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	clock   Clock
}

func NewInMemoryTRL(clock Clock) *InMemoryTRL {
	if clock == nil {
		clock = time.Now
	}
	return &InMemoryTRL{revoked: make(map[string]time.Time), clock: clock}
}

func (t *InMemoryTRL) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	return t.RevokeTokens(ctx, []string{jti}, ttl)
}

func (t *InMemoryTRL) IsRevoked(_ context.Context, jti string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	expiresAt, ok := t.revoked[jti]
	return ok && t.clock().Before(expiresAt), nil
}

func (t *InMemoryTRL) RevokeTokens(_ context.Context, jtis []string, ttl time.Duration) error {
	jtis = nonEmpty(jtis)
	if len(jtis) == 0 {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	expiresAt := t.clock().Add(ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, jti := range jtis {
		if expiresAt.After(t.revoked[jti]) {
			t.revoked[jti] = expiresAt
		}
	}
	return nil
}

// PurgeExpired drops entries whose tokens have expired.
func (t *InMemoryTRL) PurgeExpired(_ context.Context) (int64, error) {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for jti, expiresAt := range t.revoked {
		if !now.Before(expiresAt) {
			delete(t.revoked, jti)
			n++
		}
	}
	return n, nil
}
