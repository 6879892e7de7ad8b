package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRF(t *testing.T) {
	// "b" appears in both lists, so it outranks ids seen by only one signal
	// even when they top their own list.
	ids, scores := RRF([][]string{
		{"a", "b", "c"},
		{"b", "d"},
	}, DefaultRankConstant)

	require.Len(t, ids, 4)
	require.Len(t, scores, 4)
	assert.Equal(t, "b", ids[0])

	expected := 1.0/62.0 + 1.0/61.0
	assert.InDelta(t, expected, scores[0], 1e-12)

	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1], scores[i], "scores are descending")
	}
}

func TestRRFTieBreaksByID(t *testing.T) {
	// Same rank in disjoint lists produces equal scores; order falls back to
	// id so the fusion is deterministic.
	ids, scores := RRF([][]string{{"z"}, {"a"}}, DefaultRankConstant)
	require.Len(t, ids, 2)
	assert.Equal(t, "a", ids[0])
	assert.Equal(t, "z", ids[1])
	assert.Equal(t, scores[0], scores[1])
}

func TestRRFEmptyInput(t *testing.T) {
	ids, scores := RRF(nil, DefaultRankConstant)
	assert.Empty(t, ids)
	assert.Empty(t, scores)

	ids, _ = RRF([][]string{{}, {}}, DefaultRankConstant)
	assert.Empty(t, ids)
}

func TestRRFDefaultsRankConstant(t *testing.T) {
	withDefault, scoresDefault := RRF([][]string{{"a"}}, 0)
	withExplicit, scoresExplicit := RRF([][]string{{"a"}}, DefaultRankConstant)

	assert.Equal(t, withExplicit, withDefault)
	assert.Equal(t, scoresExplicit, scoresDefault)
}
