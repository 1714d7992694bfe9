package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/keyline-lab/keyline/internal/core/aggregation"
	"github.com/keyline-lab/keyline/internal/core/merge"
	"github.com/keyline-lab/keyline/internal/core/partition"
	"github.com/keyline-lab/keyline/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned for any operation against a pipeline that has shut
// down or died from a fatal error.
var ErrStopped = errors.New("pipeline stopped")

// ErrWindowOrder is returned when a batch or control call names a window id
// that violates the stream's monotonic window framing.
var ErrWindowOrder = errors.New("window order violation")

const defaultChannelBuffer = 64

type opCode int

const (
	opBatch opCode = iota
	opClose
	opAbort
)

type partitionMsg struct {
	op     opCode
	window uint64
	batch  map[string]any
}

type mergerMsg struct {
	abort   bool
	window  uint64
	partial merge.Partial
}

// Options tunes one pipeline instance.
type Options struct {
	// Partitions is the number of parallel accumulator instances. The engine
	// owns this number; the aggregation core only routes by it.
	Partitions int
	// ChannelBuffer sizes the per-partition input channels and the merger
	// channel. Zero means the default.
	ChannelBuffer int
}

func (o Options) normalized() Options {
	n := o
	if n.Partitions <= 0 {
		n.Partitions = 1
	}
	if n.ChannelBuffer <= 0 {
		n.ChannelBuffer = defaultChannelBuffer
	}
	return n
}

// Pipeline runs one aggregated stream: N partition workers, each owning an
// Operator, feeding one merger goroutine that unifies per-kind partials and
// hands exactly one finalized row set per window to the sink.
//
// Batches and window boundaries arrive through Ingest / CloseWindow /
// AbortWindow, which are safe for concurrent use; everything downstream is
// message-passing over channels, so accumulator and merge state never needs a
// lock. A fatal error anywhere (malformed value, merge protocol violation,
// sink failure) cancels the whole pipeline without emitting a partial result.
type Pipeline struct {
	profile aggregation.StreamProfile
	kinds   []string
	parts   int
	writer  storage.AggregateWriter
	runID   string

	inputs []chan partitionMsg
	merged chan mergerMsg

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu         sync.Mutex
	started    bool
	shutdown   bool
	open       bool
	current    uint64
	lastClosed uint64
	closedAny  bool
}

// NewPipeline builds a pipeline for one stream profile writing finalized
// windows through writer.
func NewPipeline(profile aggregation.StreamProfile, writer storage.AggregateWriter, opts Options) (*Pipeline, error) {
	if writer == nil {
		return nil, fmt.Errorf("stream %q: aggregate writer is required", profile.Name)
	}
	emitter, err := aggregation.NewEmitter(profile.Kinds)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", profile.Name, err)
	}
	opts = opts.normalized()

	inputs := make([]chan partitionMsg, opts.Partitions)
	for i := range inputs {
		inputs[i] = make(chan partitionMsg, opts.ChannelBuffer)
	}

	return &Pipeline{
		profile: profile,
		kinds:   emitter.Kinds(),
		parts:   opts.Partitions,
		writer:  writer,
		runID:   uuid.NewString(),
		inputs:  inputs,
		merged:  make(chan mergerMsg, opts.ChannelBuffer*opts.Partitions),
	}, nil
}

// Stream returns the profile name this pipeline aggregates.
func (p *Pipeline) Stream() string { return p.profile.Name }

// Partitions returns the number of parallel partitions.
func (p *Pipeline) Partitions() int { return p.parts }

// Start launches the partition workers and the merger. It returns immediately;
// use Shutdown to drain and collect the terminal error.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("stream %q: pipeline already started", p.profile.Name)
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	// gctx is what Ingest and send watch: it dies both on Shutdown and on the
	// first fatal worker error, so callers never block against a dead pipeline.
	p.ctx = gctx
	p.cancel = cancel
	p.group = group

	var workers sync.WaitGroup
	workers.Add(p.parts)
	for i := 0; i < p.parts; i++ {
		group.Go(func() error {
			defer workers.Done()
			return p.runPartition(gctx, i)
		})
	}
	group.Go(func() error {
		return p.runMerger(gctx)
	})
	// The merger channel closes once every worker has returned, so the merger
	// drains all partials before it exits on clean shutdown.
	go func() {
		workers.Wait()
		close(p.merged)
	}()

	slog.Info("[Pipeline] Started",
		"stream", p.profile.Name,
		"partitions", p.parts,
		"kinds", p.kinds,
		"cumulative", p.profile.Cumulative,
		"run_id", p.runID,
	)
	return nil
}

// Ingest routes one key→value batch for the given window across partitions.
// The first batch of a new window opens it; subsequent batches must name the
// same window until it is closed or aborted.
func (p *Pipeline) Ingest(ctx context.Context, windowID uint64, values map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return err
	}

	if !p.open {
		if p.closedAny && windowID <= p.lastClosed {
			return fmt.Errorf("%w: stream %q window %d not after last closed %d",
				ErrWindowOrder, p.profile.Name, windowID, p.lastClosed)
		}
		p.open = true
		p.current = windowID
	} else if windowID != p.current {
		return fmt.Errorf("%w: stream %q window %d is open, got batch for %d",
			ErrWindowOrder, p.profile.Name, p.current, windowID)
	}

	for part, sub := range partition.Split(values, p.parts) {
		if err := p.send(ctx, part, partitionMsg{op: opBatch, window: windowID, batch: sub}); err != nil {
			return err
		}
	}
	return nil
}

// CloseWindow ends the given window on every partition. Partials flow to the
// merger, which flushes the finalized mapping to the sink once all partitions
// have reported for every output kind.
func (p *Pipeline) CloseWindow(ctx context.Context, windowID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return err
	}
	if !p.open || windowID != p.current {
		return fmt.Errorf("%w: stream %q cannot close window %d (open=%v current=%d)",
			ErrWindowOrder, p.profile.Name, windowID, p.open, p.current)
	}

	for part := 0; part < p.parts; part++ {
		if err := p.send(ctx, part, partitionMsg{op: opClose, window: windowID}); err != nil {
			return err
		}
	}
	p.open = false
	p.lastClosed = windowID
	p.closedAny = true
	return nil
}

// AbortWindow discards the given window everywhere without emitting anything.
// The same window id may be replayed afterwards.
func (p *Pipeline) AbortWindow(ctx context.Context, windowID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return err
	}
	if !p.open || windowID != p.current {
		return fmt.Errorf("%w: stream %q cannot abort window %d (open=%v current=%d)",
			ErrWindowOrder, p.profile.Name, windowID, p.open, p.current)
	}

	for part := 0; part < p.parts; part++ {
		if err := p.send(ctx, part, partitionMsg{op: opAbort, window: windowID}); err != nil {
			return err
		}
	}
	select {
	case p.merged <- mergerMsg{abort: true, window: windowID}:
	case <-p.ctx.Done():
		return ErrStopped
	}
	p.open = false
	return nil
}

// Shutdown closes the input channels, waits for workers and merger to drain,
// and returns the pipeline's terminal error, if any.
func (p *Pipeline) Shutdown() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	if !p.shutdown {
		p.shutdown = true
		for _, ch := range p.inputs {
			close(ch)
		}
	}
	p.mu.Unlock()

	err := p.group.Wait()
	p.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Pipeline) usable() error {
	if !p.started || p.shutdown {
		return ErrStopped
	}
	if p.ctx.Err() != nil {
		return ErrStopped
	}
	return nil
}

// send must be called with p.mu held so it never races Shutdown's close.
func (p *Pipeline) send(ctx context.Context, part int, msg partitionMsg) error {
	select {
	case p.inputs[part] <- msg:
		return nil
	case <-p.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) runPartition(ctx context.Context, part int) error {
	op, err := NewOperator(p.profile, part)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.inputs[part]:
			if !ok {
				return nil
			}
			if err := p.handlePartitionMsg(ctx, op, msg); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) handlePartitionMsg(ctx context.Context, op *Operator, msg partitionMsg) error {
	switch msg.op {
	case opBatch:
		if !op.Open() {
			if err := op.BeginWindow(msg.window); err != nil {
				return err
			}
		}
		return op.Process(msg.batch)

	case opClose:
		// A partition may see zero batches for a window; it still reports an
		// empty partial for every kind so the merger can complete the window.
		if !op.Open() {
			if err := op.BeginWindow(msg.window); err != nil {
				return err
			}
		}
		partials, err := op.EndWindow()
		if err != nil {
			return err
		}
		for _, pa := range partials {
			select {
			case p.merged <- mergerMsg{window: pa.Window, partial: pa}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil

	case opAbort:
		op.AbortWindow()
		return nil
	}
	return fmt.Errorf("unknown partition message op %d", msg.op)
}

// pendingFlush accumulates finalized per-kind rows for one window until every
// output kind has merged.
type pendingFlush struct {
	rows      []storage.AggregateRow
	kindsDone int
}

func (p *Pipeline) runMerger(ctx context.Context) error {
	unifiers := make(map[string]*merge.Unifier, len(p.kinds))
	for _, kind := range p.kinds {
		u, err := merge.NewUnifier(kind, p.parts)
		if err != nil {
			return err
		}
		unifiers[kind] = u
	}
	pending := make(map[uint64]*pendingFlush)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.merged:
			if !ok {
				return nil
			}
			if msg.abort {
				for _, u := range unifiers {
					u.Abort(msg.window)
				}
				delete(pending, msg.window)
				slog.Info("[Pipeline] Window aborted",
					"stream", p.profile.Name, "window_id", msg.window, "run_id", p.runID)
				continue
			}
			if err := p.mergePartial(ctx, unifiers, pending, msg.partial); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) mergePartial(
	ctx context.Context,
	unifiers map[string]*merge.Unifier,
	pending map[uint64]*pendingFlush,
	pa merge.Partial,
) error {
	u, ok := unifiers[pa.Kind]
	if !ok {
		return fmt.Errorf("stream %q: partial for unconfigured kind %q", p.profile.Name, pa.Kind)
	}

	mergedValues, done, err := u.Offer(pa)
	if err != nil {
		return fmt.Errorf("stream %q: %w", p.profile.Name, err)
	}
	if !done {
		return nil
	}

	flush, ok := pending[pa.Window]
	if !ok {
		flush = &pendingFlush{}
		pending[pa.Window] = flush
	}

	keys := make([]string, 0, len(mergedValues))
	for key := range mergedValues {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		flush.rows = append(flush.rows, storage.AggregateRow{
			Stream:             p.profile.Name,
			WindowID:           pa.Window,
			Kind:               pa.Kind,
			Key:                key,
			Value:              mergedValues[key],
			Partitions:         p.parts,
			ProfileFingerprint: p.profile.Fingerprint,
		})
	}
	flush.kindsDone++

	if flush.kindsDone < len(p.kinds) {
		return nil
	}

	if err := p.writer.WriteWindow(ctx, flush.rows); err != nil {
		return fmt.Errorf("stream %q window %d: flush: %w", p.profile.Name, pa.Window, err)
	}
	delete(pending, pa.Window)

	slog.Info("[Pipeline] Window merged and flushed",
		"stream", p.profile.Name,
		"window_id", pa.Window,
		"rows", len(flush.rows),
		"kinds", len(p.kinds),
		"run_id", p.runID,
	)
	return nil
}
