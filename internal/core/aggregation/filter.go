package aggregation

// KeyFilter decides which keys participate in aggregation.
// An empty filter includes every key. A non-empty filter includes only the
// listed keys, or — with Inverse set — only keys NOT listed.
// Matching is exact and case-sensitive.
type KeyFilter struct {
	keys    map[string]struct{}
	inverse bool
}

// NewKeyFilter builds a filter from a key list and an inversion flag.
func NewKeyFilter(keys []string, inverse bool) KeyFilter {
	f := KeyFilter{inverse: inverse}
	if len(keys) > 0 {
		f.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			f.keys[k] = struct{}{}
		}
	}
	return f
}

// Included reports whether key participates in aggregation.
// Pure predicate: callers must check it before touching accumulator state so
// excluded keys never allocate entries.
func (f KeyFilter) Included(key string) bool {
	if len(f.keys) == 0 {
		return true
	}
	_, listed := f.keys[key]
	return listed != f.inverse
}

// Empty reports whether the filter passes everything through.
func (f KeyFilter) Empty() bool {
	return len(f.keys) == 0
}
