package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/audit"
	"trustcore/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := store.Last(ctx)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.Append(ctx, audit.Event{SequenceNumber: 0, CorrelationID: "a", ChainHash: "h0"}))
	require.NoError(t, store.Append(ctx, audit.Event{SequenceNumber: 1, CorrelationID: "b", ChainHash: "h1"}))
	require.NoError(t, store.Append(ctx, audit.Event{SequenceNumber: 1, CorrelationID: "b", ChainHash: "h1"}))

	err = store.Append(ctx, audit.Event{SequenceNumber: 5})
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	last, err := store.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h1", last.ChainHash)

	r, err := store.Range(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, r, 1)

	empty, err := store.Range(ctx, 4, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	byCorr, err := store.ByCorrelation(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, byCorr, 1)
}
