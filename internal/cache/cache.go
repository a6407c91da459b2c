// Package cache implements the TTL-bound, byte-budgeted offline cache that
// persists JSON entries into a store.PersistentStore.
package cache

import (
	"encoding/json"
	"time"
)

// Forever is the TTL of an entry that never expires.
const Forever time.Duration = -1

// permanentTTL is the persisted ttl value of a Forever entry.
const permanentTTL int64 = -1

// Entry is the persisted wire format of a cache entry.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
	TTL       int64           `json:"ttl"`       // milliseconds, or -1
}

// ValidAt reports whether the entry is still fresh at now.
func (e Entry) ValidAt(now time.Time) bool {
	if e.TTL == permanentTTL {
		return true
	}
	return now.UnixMilli()-e.Timestamp <= e.TTL
}

// Age returns how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.Timestamp) * time.Millisecond
}

func ttlMillis(ttl time.Duration) int64 {
	if ttl < 0 {
		return permanentTTL
	}
	return ttl.Milliseconds()
}

// Metadata describes one stored entry for diagnostics and eviction.
type Metadata struct {
	Key     string `json:"key"`
	Size    int64  `json:"size"`   // UTF-8 bytes of the serialized entry
	AgeMS   int64  `json:"age_ms"` // milliseconds since the entry was written
	TTLMS   int64  `json:"ttl_ms"` // -1 for permanent entries
	Expired bool   `json:"expired"`
	// Corrupt entries cannot be decoded; they are reported as expired so a
	// sweep removes them.
	Corrupt bool `json:"corrupt,omitempty"`

	timestamp int64
}

// Stats represents cache engine counters since construction.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Expired   uint64 `json:"expired"`   // lazily deleted on read or swept
	Corrupt   uint64 `json:"corrupt"`   // entries that failed to decode
	Writes    uint64 `json:"writes"`    // successful sets
	Rejected  uint64 `json:"rejected"`  // sets that did not persist
	Evictions uint64 `json:"evictions"` // entries removed to respect the budget
	Errors    uint64 `json:"errors"`    // swallowed storage failures
}
