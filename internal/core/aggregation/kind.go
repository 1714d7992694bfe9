package aggregation

import "github.com/shopspring/decimal"

// Supported output kinds. Each sum kind is a numeric view of the same float64
// running sum; count is tracked independently and is always integral.
const (
	KindSumDouble = "sum_double"
	KindSumInt    = "sum_int"
	KindSumLong   = "sum_long"
	KindSumShort  = "sum_short"
	KindSumFloat  = "sum_float"
	KindCount     = "count"
)

// Converter narrows a float64 running sum into one output kind's numeric
// domain. To add a new kind: implement this interface and register it in
// Converters. Emission becomes a single map lookup — no switch.
type Converter interface {
	// Convert returns the kind's view of sum as an exact decimal.
	// Integral kinds truncate toward zero, matching native cast semantics.
	Convert(sum float64) decimal.Decimal
}

// Converters is the registry of sum output kinds. KindCount is not here: it is
// fed from the count side of the accumulator, not from a sum conversion.
var Converters = map[string]Converter{
	KindSumDouble: doubleConverter{},
	KindSumInt:    intConverter{},
	KindSumLong:   longConverter{},
	KindSumShort:  shortConverter{},
	KindSumFloat:  floatConverter{},
}

// ValidKind reports whether kind is a supported output kind.
func ValidKind(kind string) bool {
	if kind == KindCount {
		return true
	}
	_, ok := Converters[kind]
	return ok
}

// SumKind reports whether kind is derived from the running sum.
func SumKind(kind string) bool {
	_, ok := Converters[kind]
	return ok
}

// doubleConverter passes the running sum through unchanged.
type doubleConverter struct{}

func (doubleConverter) Convert(sum float64) decimal.Decimal {
	return decimal.NewFromFloat(sum)
}

// intConverter truncates to a 32-bit integer.
type intConverter struct{}

func (intConverter) Convert(sum float64) decimal.Decimal {
	return decimal.NewFromInt(int64(int32(sum)))
}

// longConverter truncates to a 64-bit integer.
type longConverter struct{}

func (longConverter) Convert(sum float64) decimal.Decimal {
	return decimal.NewFromInt(int64(sum))
}

// shortConverter truncates to a 16-bit integer.
type shortConverter struct{}

func (shortConverter) Convert(sum float64) decimal.Decimal {
	return decimal.NewFromInt(int64(int16(sum)))
}

// floatConverter narrows through 32-bit float precision.
type floatConverter struct{}

func (floatConverter) Convert(sum float64) decimal.Decimal {
	return decimal.NewFromFloat32(float32(sum))
}
