package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/audit"
	"trustcore/internal/audit/store/jsonl"
)

func writeChain(t *testing.T, dir string, n int) {
	t.Helper()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store, err := jsonl.Open(dir, 24*time.Hour, jsonl.WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	defer store.Close()

	prev := audit.GenesisHash
	for i := range n {
		e := audit.Event{
			SequenceNumber: uint64(i),
			Timestamp:      time.Date(2026, 4, 1, 12, 0, i, 0, time.UTC),
			EventType:      audit.EventLoginSucceeded,
			CorrelationID:  fmt.Sprintf("corr-%d", i),
			Outcome:        audit.OutcomeSuccess,
			Payload:        json.RawMessage(`{}`),
		}
		e.EventHash, err = audit.EventHash(e)
		require.NoError(t, err)
		e.ChainHash = audit.ChainHash(e.EventHash, prev)
		prev = e.ChainHash
		require.NoError(t, store.Append(context.Background(), e))
	}
}

func TestVerifyDirIntactChain(t *testing.T) {
	dir := t.TempDir()
	writeChain(t, dir, 4)

	report, err := verifyDir(dir)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, uint64(4), report.To)
}

func TestVerifyDirDetectsEdit(t *testing.T) {
	dir := t.TempDir()
	writeChain(t, dir, 4)

	segments, err := jsonl.Segments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	raw, err := os.ReadFile(segments[0])
	require.NoError(t, err)
	raw = bytes.Replace(raw, []byte(`"corr-2"`), []byte(`"corr-9"`), 1)
	require.NoError(t, os.WriteFile(segments[0], raw, 0o600))

	report, err := verifyDir(dir)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotNil(t, report.FirstMismatch)
	assert.Equal(t, uint64(2), *report.FirstMismatch)
	assert.Equal(t, []uint64{2, 3}, report.Mismatches)

	var out bytes.Buffer
	require.NoError(t, writeReport(&out, report))
	assert.Contains(t, out.String(), `"valid": false`)
}

func TestVerifyDirMissingDirectory(t *testing.T) {
	_, err := verifyDir(t.TempDir() + "/absent")
	assert.Error(t, err)
}
