package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process PersistentStore. Nothing survives a restart; it
// backs tests and STORE_DRIVER=memory.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string

	// Fail, when set, is consulted before every operation; a non-nil return
	// is reported as that operation's error. Used to simulate device faults.
	Fail func(op, key string) error
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) fault(op, key string) error {
	if m.Fail == nil {
		return nil
	}
	return wrap(op, key, m.Fail(op, key))
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := m.fault("get", key); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := m.fault("set", key); err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := m.fault("remove", key); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	if err := m.fault("keys", ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) MultiGet(ctx context.Context, keys []string) (map[string]string, error) {
	if err := m.fault("multiget", ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) MultiRemove(ctx context.Context, keys []string) error {
	if err := m.fault("multiremove", ""); err != nil {
		return err
	}
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored keys, namespaced or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
