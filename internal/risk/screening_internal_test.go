package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "john smith", normalizeName("  SMITH,   John "))
	assert.Equal(t, "francois obrien", normalizeName("François O'Brien"))
	assert.Equal(t, "angstrom nakamura", normalizeName("Ångström-Nakamura"))
	assert.Empty(t, normalizeName(" .,; "))
}

func TestJaroWinkler(t *testing.T) {
	assert.InDelta(t, 0.961, jaroWinkler("martha", "marhta"), 0.001)
	assert.InDelta(t, 0.840, jaroWinkler("dwayne", "duane"), 0.001)
	assert.InDelta(t, 0.813, jaroWinkler("dixon", "dicksonx"), 0.001)
	assert.Equal(t, 1.0, jaroWinkler("same", "same"))
	assert.Equal(t, 0.0, jaroWinkler("", "x"))
	assert.Equal(t, 0.0, jaroWinkler("abc", "xyz"))
}

func TestScreeningBandsAreInclusive(t *testing.T) {
	ref := DefaultReferenceData()
	require.Equal(t, 0.98, ref.Screening.BlockThreshold)

	block := screenResult{similarity: 0.98, decision: DecisionBlock}
	review := screenResult{similarity: 0.85, decision: DecisionReview}
	clear := screenResult{similarity: 0.8499, decision: DecisionClear}

	assert.Equal(t, 90, screeningScore(ref, block))
	assert.Equal(t, 70, screeningScore(ref, review))
	assert.Equal(t, 39, screeningScore(ref, clear))
	assert.Equal(t, 100, screeningScore(ref, screenResult{similarity: 1, decision: DecisionBlock}))
}

func TestHourDistance(t *testing.T) {
	assert.Equal(t, 0, hourDistance(5, 5))
	assert.Equal(t, 2, hourDistance(23, 1))
	assert.Equal(t, 12, hourDistance(0, 12))
}
