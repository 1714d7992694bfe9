package partition

import "hash/fnv"

// For returns the partition that owns key, for a pipeline running count
// parallel partitions. Stable and deterministic: the same key always lands on
// the same partition, which is what keeps per-key state correct when batches
// are split across partitions. Uses FNV-32a (stdlib, fast, well-distributed).
//
// How many partitions exist is the engine's decision; this package only
// routes.
func For(key string, count int) int {
	if count <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(count))
}

// Split scatters one key→value batch into per-partition sub-batches. Keys are
// not copied here: sub-batches are transient routing views, and downstream
// accumulators make their own independent key copies on first insert.
func Split(batch map[string]any, count int) map[int]map[string]any {
	if count <= 1 {
		return map[int]map[string]any{0: batch}
	}
	out := make(map[int]map[string]any)
	for key, v := range batch {
		p := For(key, count)
		sub, ok := out[p]
		if !ok {
			sub = make(map[string]any)
			out[p] = sub
		}
		sub[key] = v
	}
	return out
}
