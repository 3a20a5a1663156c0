package secretstore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process KV. It backs tests (multiple simulated nodes share
// one instance inside a single test process) and the single-node dev mode.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	createdAt time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, key string) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", time.Time{}, ErrNotFound
	}
	return e.value, e.createdAt, nil
}

func (m *Memory) CreateIfAbsent(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return ErrAlreadyExists
	}
	m.entries[key] = memoryEntry{value: value, createdAt: time.Now()}
	return nil
}

// Len reports the number of stored keys. Test helper.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
