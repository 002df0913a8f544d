package contextstore

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value any) error {
	if key == "" {
		return ErrInvalidKey
	}
	if value == nil {
		m.mu.Lock()
		delete(m.values, key)
		m.mu.Unlock()
		return nil
	}

	v, err := normalizeValue(key, value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
	return nil
}

// Keys implements Store.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
