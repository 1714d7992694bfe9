package aggregation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAccumulator(filter KeyFilter, cumulative bool) *Accumulator {
	return NewAccumulator(filter, cumulative, true, true)
}

func TestAccumulator_SumAndCountPerKey(t *testing.T) {
	acc := newTestAccumulator(NewKeyFilter(nil, false), false)

	batches := []map[string]any{
		{"a": 2.0, "b": 20.0, "c": 1000.0},
		{"a": 1.0},
		{"a": 10.0, "b": 5.0},
	}
	for _, b := range batches {
		require.NoError(t, acc.Apply(b))
	}

	state := acc.Snapshot()
	require.Equal(t, map[string]float64{"a": 13, "b": 25, "c": 1000}, state.Sums)
	require.Equal(t, map[string]int64{"a": 3, "b": 2, "c": 1}, state.Counts)

	// Non-cumulative reset clears all keys before the next window's first batch.
	acc.Reset()
	state = acc.Snapshot()
	require.Empty(t, state.Sums)
	require.Empty(t, state.Counts)
}

func TestAccumulator_FilterAppliedBeforeStateCreation(t *testing.T) {
	acc := newTestAccumulator(NewKeyFilter([]string{"a", "b"}, false), false)

	require.NoError(t, acc.Apply(map[string]any{"a": 1.0, "x": 99.0, "y": 99.0}))

	state := acc.Snapshot()
	require.Equal(t, map[string]float64{"a": 1}, state.Sums)
	require.Equal(t, map[string]int64{"a": 1}, state.Counts)
	// Excluded keys must never create accumulator entries.
	require.NotContains(t, state.Sums, "x")
	require.NotContains(t, state.Counts, "y")
}

func TestAccumulator_InverseFilter(t *testing.T) {
	acc := newTestAccumulator(NewKeyFilter([]string{"a"}, true), false)

	require.NoError(t, acc.Apply(map[string]any{"a": 1.0, "b": 2.0}))

	state := acc.Snapshot()
	require.Equal(t, map[string]float64{"b": 2}, state.Sums)
}

func TestAccumulator_CumulativeSpansWindows(t *testing.T) {
	acc := newTestAccumulator(NewKeyFilter(nil, false), true)

	require.NoError(t, acc.Apply(map[string]any{"a": 5.0}))
	acc.Reset() // window boundary: no-op in cumulative mode
	require.NoError(t, acc.Apply(map[string]any{"a": 7.0}))

	state := acc.Snapshot()
	require.Equal(t, float64(12), state.Sums["a"])
	require.Equal(t, int64(2), state.Counts["a"])
}

func TestAccumulator_DiscardDropsCumulativeState(t *testing.T) {
	acc := newTestAccumulator(NewKeyFilter(nil, false), true)

	require.NoError(t, acc.Apply(map[string]any{"a": 5.0}))
	acc.Discard()
	require.Empty(t, acc.Snapshot().Sums)
	require.Empty(t, acc.Snapshot().Counts)
}

func TestAccumulator_MalformedValueFailsTheBatch(t *testing.T) {
	acc := newTestAccumulator(NewKeyFilter(nil, false), false)

	err := acc.Apply(map[string]any{"a": struct{}{}})
	require.ErrorIs(t, err, ErrMalformedValue)
	require.ErrorContains(t, err, `key "a"`)
}

func TestAccumulator_MalformedValueForExcludedKeyIgnored(t *testing.T) {
	// Filtering happens before conversion, so garbage under an excluded key
	// cannot poison the window.
	acc := newTestAccumulator(NewKeyFilter([]string{"a"}, false), false)

	require.NoError(t, acc.Apply(map[string]any{"junk": struct{}{}, "a": 1.0}))
	require.Equal(t, float64(1), acc.Snapshot().Sums["a"])
}

func TestAccumulator_DisabledSides(t *testing.T) {
	sumOnly := NewAccumulator(NewKeyFilter(nil, false), false, true, false)
	require.NoError(t, sumOnly.Apply(map[string]any{"a": 3.0}))
	require.Equal(t, float64(3), sumOnly.Snapshot().Sums["a"])
	require.Empty(t, sumOnly.Snapshot().Counts)

	countOnly := NewAccumulator(NewKeyFilter(nil, false), false, false, true)
	require.NoError(t, countOnly.Apply(map[string]any{"a": 3.0}))
	require.Empty(t, countOnly.Snapshot().Sums)
	require.Equal(t, int64(1), countOnly.Snapshot().Counts["a"])
}

func TestAccumulator_KeysAreIndependentCopies(t *testing.T) {
	acc := newTestAccumulator(NewKeyFilter(nil, false), false)

	// Build the key from a larger buffer the caller may reuse.
	buf := []byte("shared-buffer-key-material")
	key := string(buf[:6])
	require.NoError(t, acc.Apply(map[string]any{key: 1.0}))

	state := acc.Snapshot()
	_, ok := state.Sums["shared"]
	require.True(t, ok)
}
