package cache

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/onnwee/event-companion/backend/internal/metrics"
)

// projectedSize is the namespace total after writing size bytes under key.
func projectedSize(entries []Metadata, key string, size int64) int64 {
	total := size
	for _, m := range entries {
		if m.Key != key {
			total += m.Size
		}
	}
	return total
}

// evictionCount is ceil(fraction * n), at least one entry when n > 0.
func evictionCount(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	c := int(math.Ceil(fraction * float64(n)))
	if c < 1 {
		c = 1
	}
	return min(c, n)
}

// evictUntilFits removes the oldest entries by write timestamp, a round of
// ceil(fraction*n) at a time, until writing size bytes under key fits the
// budget. Caller holds writeMu.
func (e *Engine) evictUntilFits(ctx context.Context, entries []Metadata, key string, size int64) bool {
	remaining := slices.Clone(entries)
	slices.SortStableFunc(remaining, func(a, b Metadata) int {
		if c := cmp.Compare(a.timestamp, b.timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	for projectedSize(remaining, key, size) > e.maxBytes {
		if len(remaining) == 0 {
			return false
		}
		n := evictionCount(len(remaining), e.evictFraction)
		victims := make([]string, 0, n)
		for _, m := range remaining[:n] {
			victims = append(victims, m.Key)
		}
		if err := e.store.MultiRemove(ctx, victims); err != nil {
			e.fail(ctx, "evict", key, err)
			return false
		}
		remaining = remaining[n:]

		e.evictions.Add(uint64(n))
		metrics.CacheEvictions.Add(float64(n))
		e.log.Ctx(ctx).Info("Evicted oldest cache entries", "count", n, "keys", victims)
		if e.onEvict != nil {
			e.onEvict(victims)
		}
	}
	return true
}
