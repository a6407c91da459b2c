package store

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// Memo fronts a slower PersistentStore with a size-bounded ristretto memo of
// raw values. Writes go through to the backing store and drop the memoised
// copy; Keys and batch operations always hit the backing store.
type Memo struct {
	next  PersistentStore
	cache *ristretto.Cache
	// mu orders backing-store reads that populate the memo against writes,
	// so a read racing a write can never re-memoise the old value.
	mu sync.RWMutex
}

// NewMemo wraps next with a memo of at most maxSizeMB megabytes.
func NewMemo(next PersistentStore, maxSizeMB int64) (*Memo, error) {
	// NumCounters should be ~10x the expected number of entries
	config := &ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxSizeMB * 1024 * 1024,
		BufferItems: 64,
		Metrics:     true,
	}
	cache, err := ristretto.NewCache(config)
	if err != nil {
		return nil, err
	}
	return &Memo{next: next, cache: cache}, nil
}

// Close releases the memo; the backing store is not closed.
func (m *Memo) Close() {
	m.cache.Close()
}

// Hits reports memo hits, for diagnostics.
func (m *Memo) Hits() uint64 {
	return m.cache.Metrics.Hits()
}

func (m *Memo) Get(ctx context.Context, key string) (string, error) {
	if v, ok := m.cache.Get(key); ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
		m.cache.Del(key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.next.Get(ctx, key)
	if err != nil {
		return "", err
	}
	m.cache.Set(key, v, int64(len(v)))
	m.cache.Wait()
	return v, nil
}

func (m *Memo) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Del(key)
	return m.next.Set(ctx, key, value)
}

func (m *Memo) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Del(key)
	return m.next.Remove(ctx, key)
}

func (m *Memo) Keys(ctx context.Context) ([]string, error) {
	return m.next.Keys(ctx)
}

func (m *Memo) MultiGet(ctx context.Context, keys []string) (map[string]string, error) {
	return m.next.MultiGet(ctx, keys)
}

func (m *Memo) MultiRemove(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.cache.Del(k)
	}
	return m.next.MultiRemove(ctx, keys)
}
