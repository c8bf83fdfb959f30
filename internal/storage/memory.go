package storage

import (
	"context"
	"sync"
)

// MemoryMirror keeps session flags in process memory. Flags are lost on
// restart.
type MemoryMirror struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{values: make(map[string]string)}
}

func (m *MemoryMirror) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryMirror) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryMirror) Clear(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *MemoryMirror) Ping(context.Context) error { return nil }

func (m *MemoryMirror) Close() error { return nil }
