package aggregation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Emission is one output kind's finalized mapping for one window. Values are
// exact decimals so downstream merge arithmetic is order-independent. The map
// is freshly allocated with cloned keys: once emitted it aliases nothing in
// the accumulator and is treated as immutable.
type Emission struct {
	Kind   string
	Values map[string]decimal.Decimal
}

// Emitter materializes a WindowState into the numeric representations
// consumers asked for. Only configured kinds perform conversion work; an
// unrequested kind costs nothing at window close.
type Emitter struct {
	kinds []string
}

// NewEmitter validates and fixes the set of requested output kinds.
func NewEmitter(kinds []string) (*Emitter, error) {
	seen := make(map[string]struct{}, len(kinds))
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !ValidKind(k) {
			return nil, fmt.Errorf("unsupported output kind %q", k)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one output kind is required")
	}
	return &Emitter{kinds: out}, nil
}

// Kinds returns the configured output kinds in configuration order.
func (e *Emitter) Kinds() []string { return e.kinds }

// NeedsSums reports whether any configured kind reads the sum side.
func (e *Emitter) NeedsSums() bool {
	for _, k := range e.kinds {
		if SumKind(k) {
			return true
		}
	}
	return false
}

// NeedsCounts reports whether the count kind is configured.
func (e *Emitter) NeedsCounts() bool {
	for _, k := range e.kinds {
		if k == KindCount {
			return true
		}
	}
	return false
}

// Emit converts the snapshot once per configured kind. Every key present in
// the snapshot appears in every emitted mapping; for a fixed snapshot the
// result is fully determined — key enumeration order carries no meaning.
func (e *Emitter) Emit(state WindowState) []Emission {
	out := make([]Emission, 0, len(e.kinds))
	for _, kind := range e.kinds {
		if kind == KindCount {
			values := make(map[string]decimal.Decimal, len(state.Counts))
			for key, n := range state.Counts {
				values[strings.Clone(key)] = decimal.NewFromInt(n)
			}
			out = append(out, Emission{Kind: kind, Values: values})
			continue
		}
		conv := Converters[kind]
		values := make(map[string]decimal.Decimal, len(state.Sums))
		for key, sum := range state.Sums {
			values[strings.Clone(key)] = conv.Convert(sum)
		}
		out = append(out, Emission{Kind: kind, Values: values})
	}
	return out
}
