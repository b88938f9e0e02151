package storage

import (
	"context"
	"maps"
	"sync"
)

type memoryStorage struct {
	data map[string]map[string]map[string]any
	mu   sync.RWMutex
}

// NewMemoryStorage returns an in-memory Storage, the default backend and the
// one tests inject.
func NewMemoryStorage() Storage {
	return &memoryStorage{
		data: make(map[string]map[string]map[string]any),
	}
}

func (m *memoryStorage) Init(ctx context.Context) error {
	return nil
}

func (m *memoryStorage) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]map[string]map[string]any)
	return nil
}

func (m *memoryStorage) Put(ctx context.Context, prefix string, key string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[prefix] == nil {
		m.data[prefix] = make(map[string]map[string]any)
	}

	// Copy both ways so callers cannot mutate stored state behind the lock
	m.data[prefix][key] = maps.Clone(data)

	return nil
}

func (m *memoryStorage) Get(ctx context.Context, prefix string, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.data[prefix]
	if !ok {
		return nil, ErrNotFound
	}

	record, ok := records[key]
	if !ok {
		return nil, ErrNotFound
	}

	return maps.Clone(record), nil
}

func (m *memoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.data[prefix] {
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *memoryStorage) Delete(ctx context.Context, prefix string, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[prefix] != nil {
		delete(m.data[prefix], key)
	}

	return nil
}
