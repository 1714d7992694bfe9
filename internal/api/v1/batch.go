package v1

import "fmt"

// ValueBatch is the atomic unit of ingestion: one key→value mapping belonging
// to one window of one stream. Batches for a window may arrive in any number;
// the engine folds each into the window's running aggregates.
type ValueBatch struct {
	// Stream names the stream profile this batch belongs to.
	Stream string `json:"stream"`

	// WindowID identifies the processing window. Windows are framed by
	// explicit close/abort control calls and ids must increase monotonically
	// within a stream.
	WindowID uint64 `json:"window_id"`

	// Values maps keys to numeric values. JSON numbers and numeric strings
	// are accepted; anything else fails the window.
	Values map[string]any `json:"values"`
}

// Validate ensures the batch envelope is complete.
func (b *ValueBatch) Validate() error {
	if b.Stream == "" {
		return fmt.Errorf("stream is required")
	}
	if len(b.Values) == 0 {
		return fmt.Errorf("values must not be empty")
	}
	return nil
}

// WindowResult is one merged, finalized mapping for one output kind of one
// window, as served by the projection API.
type WindowResult struct {
	Stream   string            `json:"stream"`
	WindowID uint64            `json:"window_id"`
	Kind     string            `json:"kind"`
	Values   map[string]string `json:"values"` // decimal strings, exact
}
