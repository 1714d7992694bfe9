// Package merge combines per-partition partial aggregates into one mapping
// per window. The combine rule is plain addition, so merging is associative
// and commutative: partials may arrive in any order across partitions and the
// final mapping is the same.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrDuplicatePartial signals that a second partial arrived for the same
// (partition, window). Merge is additive, not idempotent — accepting the
// duplicate would double-count, so it is surfaced as a fatal protocol
// violation instead of being silently folded in.
var ErrDuplicatePartial = errors.New("duplicate partial aggregate")

// Partial is one partition's aggregate for one window and one output kind.
// It is immutable once emitted; the unifier never writes to it and never
// keeps references into it past the merge.
type Partial struct {
	Partition int
	Window    uint64
	Kind      string
	Values    map[string]decimal.Decimal
}

// Unifier merges partials for one output kind. It withholds emission for a
// window until every expected partition has reported, holding state for
// multiple in-flight windows when partitions close windows at different
// times. A key absent from a partition's partial contributes zero — that
// partition simply saw no occurrences of the key.
//
// Single-threaded by contract, like the accumulators it sits downstream of.
type Unifier struct {
	kind       string
	partitions int
	inflight   map[uint64]*pendingWindow
}

type pendingWindow struct {
	values map[string]decimal.Decimal
	seen   map[int]struct{}
}

// NewUnifier builds a unifier expecting exactly one partial per partition per
// window for the given output kind.
func NewUnifier(kind string, partitions int) (*Unifier, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("unifier %q: partition count must be > 0, got %d", kind, partitions)
	}
	return &Unifier{
		kind:       kind,
		partitions: partitions,
		inflight:   make(map[uint64]*pendingWindow),
	}, nil
}

// Kind returns the output kind this unifier merges.
func (u *Unifier) Kind() string { return u.kind }

// Offer folds one partial into the window's pending state. When the last
// expected partition reports, the merged mapping is returned with done=true
// and the window's state is discarded. The returned mapping shares nothing
// with any input partial: keys are cloned and values are freshly summed.
func (u *Unifier) Offer(p Partial) (merged map[string]decimal.Decimal, done bool, err error) {
	if p.Kind != u.kind {
		return nil, false, fmt.Errorf("unifier %q: partial has kind %q", u.kind, p.Kind)
	}
	if p.Partition < 0 || p.Partition >= u.partitions {
		return nil, false, fmt.Errorf("unifier %q: partition %d out of range [0,%d)", u.kind, p.Partition, u.partitions)
	}

	w, ok := u.inflight[p.Window]
	if !ok {
		w = &pendingWindow{
			values: make(map[string]decimal.Decimal, len(p.Values)),
			seen:   make(map[int]struct{}, u.partitions),
		}
		u.inflight[p.Window] = w
	}

	if _, dup := w.seen[p.Partition]; dup {
		return nil, false, fmt.Errorf("%w: kind %q partition %d window %d",
			ErrDuplicatePartial, u.kind, p.Partition, p.Window)
	}
	w.seen[p.Partition] = struct{}{}

	for key, v := range p.Values {
		if cur, ok := w.values[key]; ok {
			w.values[key] = cur.Add(v)
		} else {
			w.values[strings.Clone(key)] = v
		}
	}

	if len(w.seen) < u.partitions {
		return nil, false, nil
	}

	delete(u.inflight, p.Window)
	return w.values, true, nil
}

// Abort discards any pending state for the window without emitting. Safe to
// call for windows the unifier has never seen.
func (u *Unifier) Abort(window uint64) {
	delete(u.inflight, window)
}

// InFlight reports how many windows are currently awaiting partials.
func (u *Unifier) InFlight() int {
	return len(u.inflight)
}
