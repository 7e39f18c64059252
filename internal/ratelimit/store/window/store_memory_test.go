package window

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepDropsEndedWindows(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := store.Hit(ctx, "rl:read:old", 5, time.Minute, now)
	require.NoError(t, err)
	_, err = store.Hit(ctx, "rl:read:new", 5, time.Minute, now.Add(50*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, store.Sweep(now.Add(time.Minute)))
	assert.Len(t, store.windows, 1)
	assert.Contains(t, store.windows, "rl:read:new")
}
