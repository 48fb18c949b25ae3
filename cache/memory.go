package cache

import (
	"context"
	"sync"
)

// MemoryAdapter keeps entries in an in-process map. Values are copied on the
// way in and out so callers cannot alias the stored slice.
type MemoryAdapter struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryAdapter creates an empty in-process adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{entries: make(map[string][]byte)}
}

func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	a.mu.Lock()
	a.entries[key] = stored
	a.mu.Unlock()
	return nil
}

func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	delete(a.entries, key)
	a.mu.Unlock()
	return nil
}

// Len reports the number of stored entries. Useful for tests and stats.
func (a *MemoryAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
