package storage

import (
	"context"

	"github.com/shopspring/decimal"
)

// AggregateRow is one key of one finalized, merged window mapping, in the
// shape the sink persists.
type AggregateRow struct {
	Stream             string
	WindowID           uint64
	Kind               string
	Key                string
	Value              decimal.Decimal
	Partitions         int
	ProfileFingerprint string
}

// AggregateWriter is the sink collaborator: it receives exactly one finalized
// row set per (stream, window), with no duplicate and no omitted keys, and
// turns it into storage writes. Re-delivery of the same finalized window must
// be harmless (the engine may replay after a crash between merge and write).
type AggregateWriter interface {
	WriteWindow(ctx context.Context, rows []AggregateRow) error
}

// AggregateReader serves finalized aggregates back out.
type AggregateReader interface {
	// QueryWindow returns all rows for one (stream, window, kind), or an
	// empty slice when the window has not been flushed.
	QueryWindow(ctx context.Context, stream string, windowID uint64, kind string) ([]AggregateRow, error)
}
