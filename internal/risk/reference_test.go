package risk_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/risk"
)

func TestLoadReferenceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.yaml")
	require.NoError(t, os.WriteFile(path, []byte(referenceYAML), 0o600))

	ref, err := risk.LoadReferenceFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, ref.EntryCount())
	assert.Equal(t, 5, ref.Transaction.HighFrequencyCount)
	assert.Equal(t, "10000", ref.Transaction.Thresholds["USD"], "defaults survive a partial file")
	assert.Equal(t, "5000", ref.Transaction.Thresholds["USDT"])
}

func TestParseReferenceDataRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad threshold":      "transaction:\n  default_threshold: \"lots\"\n",
		"inverted bands":     "screening:\n  block_threshold: 0.8\n  review_threshold: 0.9\n",
		"negative tolerance": "login:\n  hour_tolerance: -1\n",
		"not yaml":           "transaction: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := risk.ParseReferenceData([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestReferenceHolderSwapsAtomically(t *testing.T) {
	first := risk.DefaultReferenceData()
	second, err := risk.ParseReferenceData([]byte(referenceYAML))
	require.NoError(t, err)

	holder := risk.NewReferenceHolder(first)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				ref := holder.Load()
				n := ref.EntryCount()
				assert.True(t, n == 0 || n == 3)
			}
		}()
	}
	holder.Store(second)
	wg.Wait()
	assert.Same(t, second, holder.Load())
}
