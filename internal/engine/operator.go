package engine

import (
	"fmt"

	"github.com/keyline-lab/keyline/internal/core/aggregation"
	"github.com/keyline-lab/keyline/internal/core/merge"
)

// Operator is one partition of one aggregated stream: a key filter, a running
// accumulator and a typed emitter, driven by explicit window boundaries.
// It is single-threaded; the pipeline delivers messages to it sequentially.
type Operator struct {
	stream    string
	partition int
	acc       *aggregation.Accumulator
	emitter   *aggregation.Emitter

	window     uint64
	open       bool
	lastClosed uint64
	closedAny  bool
}

// NewOperator builds the partition's operator from its stream profile.
func NewOperator(profile aggregation.StreamProfile, partition int) (*Operator, error) {
	emitter, err := aggregation.NewEmitter(profile.Kinds)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", profile.Name, err)
	}
	acc := aggregation.NewAccumulator(
		profile.Filter(),
		profile.Cumulative,
		emitter.NeedsSums(),
		emitter.NeedsCounts(),
	)
	return &Operator{
		stream:    profile.Name,
		partition: partition,
		acc:       acc,
		emitter:   emitter,
	}, nil
}

// Open reports whether a window is currently active.
func (o *Operator) Open() bool { return o.open }

// BeginWindow starts window id. Ids must increase monotonically across closed
// windows; re-beginning an aborted id is allowed so the engine can replay a
// failed window.
func (o *Operator) BeginWindow(id uint64) error {
	if o.open {
		return fmt.Errorf("stream %q partition %d: window %d still open", o.stream, o.partition, o.window)
	}
	if o.closedAny && id <= o.lastClosed {
		return fmt.Errorf("stream %q partition %d: window id %d not after last closed %d",
			o.stream, o.partition, id, o.lastClosed)
	}
	o.window = id
	o.open = true
	return nil
}

// Process folds one batch into the open window.
func (o *Operator) Process(batch map[string]any) error {
	if !o.open {
		return fmt.Errorf("stream %q partition %d: no open window", o.stream, o.partition)
	}
	if err := o.acc.Apply(batch); err != nil {
		return fmt.Errorf("stream %q partition %d window %d: %w", o.stream, o.partition, o.window, err)
	}
	return nil
}

// EndWindow closes the open window: it snapshots the accumulator, emits one
// partial per configured output kind, then resets per the cumulative policy.
func (o *Operator) EndWindow() ([]merge.Partial, error) {
	if !o.open {
		return nil, fmt.Errorf("stream %q partition %d: no open window to close", o.stream, o.partition)
	}

	emissions := o.emitter.Emit(o.acc.Snapshot())
	partials := make([]merge.Partial, 0, len(emissions))
	for _, em := range emissions {
		partials = append(partials, merge.Partial{
			Partition: o.partition,
			Window:    o.window,
			Kind:      em.Kind,
			Values:    em.Values,
		})
	}

	o.acc.Reset()
	o.lastClosed = o.window
	o.closedAny = true
	o.open = false
	return partials, nil
}

// AbortWindow discards the open window without emitting anything. Cumulative
// history is dropped too: values from a failed window cannot be separated
// from it once folded in.
func (o *Operator) AbortWindow() {
	if !o.open {
		return
	}
	o.acc.Discard()
	o.open = false
}
