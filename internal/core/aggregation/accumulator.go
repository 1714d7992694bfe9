package aggregation

import (
	"fmt"
	"strings"
)

// WindowState is a read-only view of the accumulator, taken at window close
// before any clearing. The maps belong to the accumulator; emitters must copy
// what they keep.
type WindowState struct {
	Sums   map[string]float64
	Counts map[string]int64
}

// Accumulator holds per-key running sums and occurrence counts for the active
// window. It is single-threaded by contract: the engine delivers batches to one
// accumulator sequentially, so there is no internal locking.
//
// Key ownership: map keys are cloned on first insert, so the accumulator never
// retains a reference into a caller-owned buffer. The clone is released when
// the window state is cleared.
type Accumulator struct {
	filter      KeyFilter
	cumulative  bool
	trackSums   bool
	trackCounts bool

	sums   map[string]float64
	counts map[string]int64
}

// NewAccumulator builds an accumulator for one partition of one stream.
// trackSums / trackCounts let a side be skipped entirely when no output kind
// needs it.
func NewAccumulator(filter KeyFilter, cumulative, trackSums, trackCounts bool) *Accumulator {
	return &Accumulator{
		filter:      filter,
		cumulative:  cumulative,
		trackSums:   trackSums,
		trackCounts: trackCounts,
		sums:        make(map[string]float64),
		counts:      make(map[string]int64),
	}
}

// Apply folds one key→value batch into the running state. Filtering happens
// before any mutation, so excluded keys never create entries and memory stays
// bounded by the cardinality of included keys.
//
// A value that cannot be read as numeric aborts the whole call with
// ErrMalformedValue. Nothing from the offending batch is rolled back — the
// window is poisoned either way and the engine discards it.
func (a *Accumulator) Apply(batch map[string]any) error {
	for key, raw := range batch {
		if !a.filter.Included(key) {
			continue
		}
		v, err := NumericValue(raw)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		if a.trackSums {
			if _, ok := a.sums[key]; !ok {
				a.sums[strings.Clone(key)] = v
			} else {
				a.sums[key] += v
			}
		}
		if a.trackCounts {
			if _, ok := a.counts[key]; !ok {
				a.counts[strings.Clone(key)] = 1
			} else {
				a.counts[key]++
			}
		}
	}
	return nil
}

// Snapshot returns the current window state. Call at window close, before Reset.
func (a *Accumulator) Snapshot() WindowState {
	return WindowState{Sums: a.sums, Counts: a.counts}
}

// Reset clears both sides unless cumulative mode is on, in which case running
// totals keep growing across window boundaries and are never implicitly cleared.
func (a *Accumulator) Reset() {
	if a.cumulative {
		return
	}
	a.sums = make(map[string]float64)
	a.counts = make(map[string]int64)
}

// Discard unconditionally drops the current state. Used on window abort, where
// even cumulative streams must not carry values from a failed window forward.
func (a *Accumulator) Discard() {
	a.sums = make(map[string]float64)
	a.counts = make(map[string]int64)
}

// Len reports the number of tracked sum entries (count entries when sums are
// disabled). Exposed for logging.
func (a *Accumulator) Len() int {
	if a.trackSums {
		return len(a.sums)
	}
	return len(a.counts)
}
