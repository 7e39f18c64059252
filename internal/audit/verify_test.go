package audit_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"trustcore/internal/audit"
	"trustcore/internal/audit/mocks"
	"trustcore/internal/audit/store/jsonl"
	dErrors "trustcore/pkg/domain-errors"
)

// writeChain records n events through a trail backed by a JSONL store in dir.
func writeChain(t *testing.T, dir string, n int) {
	t.Helper()
	store, err := jsonl.Open(dir, 24*time.Hour)
	require.NoError(t, err)
	spool, err := audit.NewSpool(filepath.Join(t.TempDir(), "spool.jsonl"))
	require.NoError(t, err)

	trail := audit.New(store, spool, audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- trail.Run(ctx) }()

	for i := range n {
		_, err := trail.RecordSync(context.Background(), audit.Entry{
			EventType:     audit.EventActionCompleted,
			CorrelationID: "c-" + string(rune('a'+i)),
			Outcome:       audit.OutcomeSuccess,
			Payload:       map[string]any{"step": i},
		})
		require.NoError(t, err)
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, trail.Close(closeCtx))
	require.NoError(t, <-done)
	require.NoError(t, store.Close())
}

// tamper rewrites one record in the single segment file.
func tamper(t *testing.T, dir, old, replacement string) {
	t.Helper()
	segments, err := jsonl.Segments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	raw, err := os.ReadFile(segments[0])
	require.NoError(t, err)
	require.Contains(t, string(raw), old)
	require.NoError(t, os.WriteFile(segments[0], []byte(strings.Replace(string(raw), old, replacement, 1)), 0o640))
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	writeChain(t, dir, 5)
	tamper(t, dir, `"correlation_id":"c-c"`, `"correlation_id":"c-z"`)

	store, err := jsonl.Open(dir, 24*time.Hour)
	require.NoError(t, err)
	defer store.Close()
	spool, err := audit.NewSpool(filepath.Join(t.TempDir(), "spool.jsonl"))
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	alerter := mocks.NewMockAlerter(ctrl)
	alerter.EXPECT().Alert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, a audit.Alert) error {
		assert.Equal(t, audit.AlertIntegrityViolation, a.Kind)
		assert.Equal(t, uint64(2), *a.FirstMismatch)
		return nil
	})

	trail := audit.New(store, spool,
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		audit.WithAlerter(alerter),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- trail.Run(ctx) }()

	report, err := trail.Verify(context.Background(), 0, 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityViolation))
	require.NotNil(t, report)
	assert.False(t, report.Valid)
	assert.Equal(t, uint64(2), *report.FirstMismatch)
	assert.Equal(t, []uint64{2, 3, 4}, report.Mismatches)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	require.NoError(t, trail.Close(closeCtx))
	require.NoError(t, <-done)

	last, err := store.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last.SequenceNumber)
	assert.Equal(t, audit.EventAuditIntegrityViolation, last.EventType)
}

func TestVerifySubrangeBeforeTamperIsValid(t *testing.T) {
	dir := t.TempDir()
	writeChain(t, dir, 6)
	tamper(t, dir, `"correlation_id":"c-e"`, `"correlation_id":"c-y"`)

	store, err := jsonl.Open(dir, 24*time.Hour)
	require.NoError(t, err)
	defer store.Close()
	trail := audit.New(store, nil, audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	report, err := trail.Verify(context.Background(), 1, 4)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, uint64(4), report.To)
}
