package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/event-companion/backend/internal/errorreporting"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/metrics"
	"github.com/onnwee/event-companion/backend/internal/store"
)

const (
	// DefaultPrefix namespaces every key the engine owns.
	DefaultPrefix = "@cache_"
	// DefaultMaxBytes is the global storage budget.
	DefaultMaxBytes int64 = 10 * 1024 * 1024
	// DefaultEvictFraction is the share of entries removed per eviction round.
	DefaultEvictFraction = 0.25
)

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	Prefix        string
	MaxBytes      int64
	EvictFraction float64
	// Now is the clock; tests substitute a fake one.
	Now func() time.Time
	// OnEvict is called with the keys removed by each eviction round.
	OnEvict func(keys []string)
	// OnClear is called after ClearAll with the number of removed keys.
	OnClear func(removed int)
}

// Engine stores TTL entries in a PersistentStore under a key prefix and keeps
// the namespace within a byte budget. No method returns an error: storage and
// decoding failures are logged and degrade to a miss or false.
type Engine struct {
	store         store.PersistentStore
	prefix        string
	maxBytes      int64
	evictFraction float64
	now           func() time.Time
	onEvict       func([]string)
	onClear       func(int)
	log           logger.Component

	// writeMu serialises writers so the budget check and the write it guards
	// see the same total. Readers never take it.
	writeMu sync.Mutex

	hits, misses, expired, corrupt atomic.Uint64

	writes, rejected, evictions, failures atomic.Uint64
}

// New creates an engine over s.
func New(s store.PersistentStore, opts Options) *Engine {
	e := &Engine{
		store:         s,
		prefix:        opts.Prefix,
		maxBytes:      opts.MaxBytes,
		evictFraction: opts.EvictFraction,
		now:           opts.Now,
		onEvict:       opts.OnEvict,
		onClear:       opts.OnClear,
		log:           logger.Component("cache"),
	}
	if e.prefix == "" {
		e.prefix = DefaultPrefix
	}
	if e.maxBytes <= 0 {
		e.maxBytes = DefaultMaxBytes
	}
	if e.evictFraction <= 0 || e.evictFraction > 1 {
		e.evictFraction = DefaultEvictFraction
	}
	if e.now == nil {
		e.now = time.Now
	}
	metrics.CacheBudgetBytes.Set(float64(e.maxBytes))
	return e
}

// Prefix returns the namespace prefix.
func (e *Engine) Prefix() string { return e.prefix }

// MaxBytes returns the byte budget.
func (e *Engine) MaxBytes() int64 { return e.maxBytes }

// Key namespaces k; keys already carrying the prefix are returned unchanged.
func (e *Engine) Key(k string) string {
	if strings.HasPrefix(k, e.prefix) {
		return k
	}
	return e.prefix + k
}

// Set serializes data with ttl (Forever for a permanent entry) and persists
// it, evicting the oldest entries first when the write would exceed the budget.
func (e *Engine) Set(ctx context.Context, key string, data any, ttl time.Duration) bool {
	return e.write(ctx, e.Key(key), data, e.now().UnixMilli(), ttlMillis(ttl))
}

// Update replaces the data of the existing entry under key but keeps its
// write timestamp and ttl, so an expired entry stays expired. It returns
// false when there is no entry to update.
func (e *Engine) Update(ctx context.Context, key string, data any) bool {
	key = e.Key(key)
	entry, ok := e.read(ctx, key)
	if !ok {
		return false
	}
	return e.write(ctx, key, data, entry.Timestamp, entry.TTL)
}

// write persists data under the namespaced key with the given timestamp and
// ttl in milliseconds.
func (e *Engine) write(ctx context.Context, key string, data any, timestamp, ttl int64) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		e.fail(ctx, "serialize", key, err)
		e.reject()
		return false
	}
	encoded, err := json.Marshal(Entry{
		Data:      raw,
		Timestamp: timestamp,
		TTL:       ttl,
	})
	if err != nil {
		e.fail(ctx, "serialize", key, err)
		e.reject()
		return false
	}
	size := int64(len(encoded))
	if size > e.maxBytes {
		e.log.Ctx(ctx).Warn("Entry larger than cache budget, not stored",
			"key", key, "size", size, "budget", e.maxBytes)
		e.reject()
		return false
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	entries, err := e.metadata(ctx)
	if err != nil {
		e.fail(ctx, "set", key, err)
		e.reject()
		return false
	}
	if projected := projectedSize(entries, key, size); projected > e.maxBytes {
		e.log.Ctx(ctx).Info("Cache budget exceeded, evicting",
			"key", key, "projected", projected, "budget", e.maxBytes)
		if !e.evictUntilFits(ctx, entries, key, size) {
			e.reject()
			return false
		}
	}

	if err := e.store.Set(ctx, key, string(encoded)); err != nil {
		e.fail(ctx, "set", key, err)
		e.reject()
		return false
	}
	e.writes.Add(1)
	metrics.CacheWrites.WithLabelValues("success").Inc()
	e.log.Ctx(ctx).Debug("Cache entry written", "key", key, "size", size, "ttl_ms", ttl)
	return true
}

// Get decodes the fresh entry under key into dst and reports whether it hit.
// An expired or corrupt entry is deleted as a side effect. dst may be nil to
// only test for a hit.
func (e *Engine) Get(ctx context.Context, key string, dst any) bool {
	key = e.Key(key)
	entry, ok := e.read(ctx, key)
	if !ok {
		e.miss("miss")
		return false
	}
	if !entry.ValidAt(e.now()) {
		e.expired.Add(1)
		e.miss("expired")
		e.remove(ctx, key)
		return false
	}
	if !decodeInto(entry.Data, dst) {
		e.log.Ctx(ctx).Warn("Cached data does not match requested type", "key", key)
		e.miss("miss")
		return false
	}
	e.hits.Add(1)
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return true
}

// GetRaw returns the fresh entry's data as raw JSON.
func (e *Engine) GetRaw(ctx context.Context, key string) (json.RawMessage, bool) {
	var raw json.RawMessage
	if !e.Get(ctx, key, &raw) {
		return nil, false
	}
	return raw, true
}

// Peek decodes the entry under key ignoring expiry, without deleting it.
// It is the stale fallback used when a loader fails.
func (e *Engine) Peek(ctx context.Context, key string, dst any) bool {
	key = e.Key(key)
	entry, ok := e.read(ctx, key)
	if !ok {
		return false
	}
	return decodeInto(entry.Data, dst)
}

// Lookup decodes the entry under key into dst regardless of expiry and
// reports whether one was found and whether it is still fresh. Unlike Get
// it never deletes an expired entry, so the value stays available as a
// fallback.
func (e *Engine) Lookup(ctx context.Context, key string, dst any) (found, fresh bool) {
	key = e.Key(key)
	entry, ok := e.read(ctx, key)
	if !ok || !decodeInto(entry.Data, dst) {
		e.miss("miss")
		return false, false
	}
	if !entry.ValidAt(e.now()) {
		e.expired.Add(1)
		e.miss("expired")
		return true, false
	}
	e.hits.Add(1)
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return true, true
}

// Inspect returns the metadata and raw data of the entry under key without
// touching counters or deleting anything. ok is false when no decodable
// entry exists.
func (e *Engine) Inspect(ctx context.Context, key string) (m Metadata, data json.RawMessage, ok bool) {
	key = e.Key(key)
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.fail(ctx, "get", key, err)
		}
		return Metadata{}, nil, false
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return Metadata{Key: key, Size: int64(len(raw)), Corrupt: true, Expired: true}, nil, false
	}
	now := e.now()
	m = Metadata{
		Key:       key,
		Size:      int64(len(raw)),
		AgeMS:     entry.Age(now).Milliseconds(),
		TTLMS:     entry.TTL,
		Expired:   !entry.ValidAt(now),
		timestamp: entry.Timestamp,
	}
	return m, entry.Data, true
}

// IsValid reports whether a fresh entry exists, without deleting stale ones.
func (e *Engine) IsValid(ctx context.Context, key string) bool {
	raw, err := e.store.Get(ctx, e.Key(key))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.fail(ctx, "get", e.Key(key), err)
		}
		return false
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return false
	}
	return entry.ValidAt(e.now())
}

// Invalidate removes the entry under key.
func (e *Engine) Invalidate(ctx context.Context, key string) bool {
	return e.remove(ctx, e.Key(key))
}

// ClearAll removes every namespaced entry; unrelated keys are untouched.
func (e *Engine) ClearAll(ctx context.Context) bool {
	keys, err := e.keys(ctx)
	if err != nil {
		e.fail(ctx, "clear", "", err)
		return false
	}
	if err := e.store.MultiRemove(ctx, keys); err != nil {
		e.fail(ctx, "clear", "", err)
		return false
	}
	e.log.Ctx(ctx).Info("Cache cleared", "removed", len(keys))
	if e.onClear != nil {
		e.onClear(len(keys))
	}
	return true
}

// TotalSize returns the byte size of every stored namespaced entry, expired
// entries not yet deleted included.
func (e *Engine) TotalSize(ctx context.Context) int64 {
	entries, err := e.metadata(ctx)
	if err != nil {
		e.fail(ctx, "size", "", err)
		return 0
	}
	var total int64
	for _, m := range entries {
		total += m.Size
	}
	return total
}

// Metadata describes every namespaced entry. It returns nil when the store
// cannot be read.
func (e *Engine) Metadata(ctx context.Context) []Metadata {
	entries, err := e.metadata(ctx)
	if err != nil {
		e.fail(ctx, "metadata", "", err)
		return nil
	}
	return entries
}

// SweepExpired removes expired and corrupt entries and returns how many.
func (e *Engine) SweepExpired(ctx context.Context) int {
	removed := 0
	for _, m := range e.Metadata(ctx) {
		if !m.Expired {
			continue
		}
		if e.remove(ctx, m.Key) {
			removed++
			e.expired.Add(1)
		}
	}
	if removed > 0 {
		e.log.Ctx(ctx).Info("Swept expired cache entries", "removed", removed)
	}
	return removed
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Hits:      e.hits.Load(),
		Misses:    e.misses.Load(),
		Expired:   e.expired.Load(),
		Corrupt:   e.corrupt.Load(),
		Writes:    e.writes.Load(),
		Rejected:  e.rejected.Load(),
		Evictions: e.evictions.Load(),
		Errors:    e.failures.Load(),
	}
}

// Snapshot implements metrics.Source.
func (e *Engine) Snapshot(ctx context.Context) (metrics.Snapshot, error) {
	entries, err := e.metadata(ctx)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	snap := metrics.Snapshot{Entries: len(entries), Budget: e.maxBytes}
	for _, m := range entries {
		snap.Bytes += m.Size
	}
	return snap, nil
}

// read loads and decodes the entry under a namespaced key. Corrupt entries
// are deleted.
func (e *Engine) read(ctx context.Context, key string) (Entry, bool) {
	raw, err := e.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, false
	}
	if err != nil {
		e.fail(ctx, "get", key, err)
		return Entry{}, false
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		e.corrupt.Add(1)
		metrics.CacheRequests.WithLabelValues("corrupt").Inc()
		e.log.Ctx(ctx).Warn("Corrupt cache entry removed", "key", key, "error", err)
		e.remove(ctx, key)
		return Entry{}, false
	}
	return entry, true
}

func (e *Engine) remove(ctx context.Context, key string) bool {
	if err := e.store.Remove(ctx, key); err != nil {
		e.fail(ctx, "remove", key, err)
		return false
	}
	return true
}

func (e *Engine) keys(ctx context.Context) ([]string, error) {
	all, err := e.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	keys := all[:0:0]
	for _, k := range all {
		if strings.HasPrefix(k, e.prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (e *Engine) metadata(ctx context.Context) ([]Metadata, error) {
	keys, err := e.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := e.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]Metadata, 0, len(values))
	for _, k := range keys {
		raw, ok := values[k]
		if !ok {
			continue
		}
		m := Metadata{Key: k, Size: int64(len(raw))}
		entry, err := decodeEntry(raw)
		if err != nil {
			m.Corrupt = true
			m.Expired = true
		} else {
			m.timestamp = entry.Timestamp
			m.AgeMS = entry.Age(now).Milliseconds()
			m.TTLMS = entry.TTL
			m.Expired = !entry.ValidAt(now)
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) miss(result string) {
	e.misses.Add(1)
	metrics.CacheRequests.WithLabelValues(result).Inc()
}

func (e *Engine) reject() {
	e.rejected.Add(1)
	metrics.CacheWrites.WithLabelValues("failed").Inc()
}

// fail records a swallowed failure.
func (e *Engine) fail(ctx context.Context, op, key string, err error) {
	e.failures.Add(1)
	metrics.CacheErrors.WithLabelValues(op).Inc()
	e.log.Ctx(ctx).Error("Cache operation failed", "op", op, "key", key, "error", err)
	var se *store.Error
	if errors.As(err, &se) {
		errorreporting.CaptureErrorWithContext(err,
			map[string]string{"component": "cache", "op": op},
			map[string]interface{}{"key": key})
	}
}

func decodeEntry(raw string) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, err
	}
	if entry.Data == nil {
		return Entry{}, errMissingData
	}
	return entry, nil
}

var errMissingData = errors.New("cache entry has no data field")

func decodeInto(data json.RawMessage, dst any) bool {
	if dst == nil {
		return true
	}
	return json.Unmarshal(data, dst) == nil
}
