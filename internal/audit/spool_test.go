package audit_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/audit"
)

func spooledEvent(correlationID string) audit.Event {
	payload, _ := audit.CanonicalPayload(map[string]any{"note": "<b>"})
	return audit.Event{
		Timestamp:     time.Date(2026, 2, 1, 0, 0, 0, 1000, time.UTC),
		EventType:     audit.EventActionCompleted,
		CorrelationID: correlationID,
		Outcome:       audit.OutcomeSuccess,
		Payload:       payload,
	}
}

func TestSpool(t *testing.T) {
	t.Run("drain hands entries back in write order and truncates", func(t *testing.T) {
		spool, err := audit.NewSpool(filepath.Join(t.TempDir(), "nested", "spool.jsonl"))
		require.NoError(t, err)
		require.NoError(t, spool.Append(spooledEvent("a"), spooledEvent("b")))
		require.NoError(t, spool.Append(spooledEvent("c")))

		var seen []string
		err = spool.Drain(func(events []audit.Event) (int, error) {
			for _, e := range events {
				seen = append(seen, e.CorrelationID)
			}
			return len(events), nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, seen)

		n, err := spool.Len()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("partial drain keeps the rest", func(t *testing.T) {
		spool, err := audit.NewSpool(filepath.Join(t.TempDir(), "spool.jsonl"))
		require.NoError(t, err)
		require.NoError(t, spool.Append(spooledEvent("a"), spooledEvent("b"), spooledEvent("c")))

		boom := errors.New("store down")
		err = spool.Drain(func(events []audit.Event) (int, error) {
			return 1, boom
		})
		require.ErrorIs(t, err, boom)

		var rest []string
		require.NoError(t, spool.Drain(func(events []audit.Event) (int, error) {
			for _, e := range events {
				rest = append(rest, e.CorrelationID)
			}
			return len(events), nil
		}))
		assert.Equal(t, []string{"b", "c"}, rest)
	})

	t.Run("payload bytes survive the round trip", func(t *testing.T) {
		spool, err := audit.NewSpool(filepath.Join(t.TempDir(), "spool.jsonl"))
		require.NoError(t, err)
		original := spooledEvent("a")
		require.NoError(t, spool.Append(original))

		require.NoError(t, spool.Drain(func(events []audit.Event) (int, error) {
			require.Len(t, events, 1)
			assert.Equal(t, string(original.Payload), string(events[0].Payload))
			assert.True(t, original.Timestamp.Equal(events[0].Timestamp))
			return 1, nil
		}))
	})

	t.Run("missing file is empty", func(t *testing.T) {
		spool, err := audit.NewSpool(filepath.Join(t.TempDir(), "spool.jsonl"))
		require.NoError(t, err)
		n, err := spool.Len()
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
