package aggregation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMalformedValue marks a batch value that cannot be interpreted as numeric.
// It is fatal for the window being accumulated: a silently dropped value would
// break the invariant that the running sum equals the arithmetic total of all
// observed occurrences.
var ErrMalformedValue = errors.New("malformed numeric value")

// NumericValue converts a batch value to float64, the accumulator's single
// internal representation. JSON numbers arrive as float64 — that's the common
// path. Strings are accepted when they parse as decimal numbers, which covers
// clients that quote large values to dodge float precision loss in transit.
func NumericValue(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedValue, val.String())
		}
		return f, nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedValue, val)
		}
		return d.InexactFloat64(), nil
	case nil:
		return 0, fmt.Errorf("%w: nil", ErrMalformedValue)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrMalformedValue, v)
	}
}
