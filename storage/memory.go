package storage

import (
	"context"
	"sync"
)

// DefaultMemoryQuota matches the 5 MiB budget browsers give local storage.
const DefaultMemoryQuota = 5 << 20

// Memory is an in-process Medium whose values share a byte quota.
type Memory struct {
	mu     sync.Mutex
	quota  int
	used   int
	values map[string][]byte
}

// NewMemory creates a Memory medium. quotaBytes == 0 selects
// DefaultMemoryQuota; a negative quota means unbounded.
func NewMemory(quotaBytes int) *Memory {
	if quotaBytes == 0 {
		quotaBytes = DefaultMemoryQuota
	}
	return &Memory{
		quota:  quotaBytes,
		values: make(map[string][]byte),
	}
}

// Load returns a copy of the value stored under key.
func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save stores value under key, replacing any previous value. It fails with
// ErrQuotaExceeded when the total size would exceed the quota.
func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used - len(m.values[key]) + len(value)
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	m.values[key] = append([]byte(nil), value...)
	m.used = next
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= len(m.values[key])
	delete(m.values, key)
	return nil
}

// Used returns the number of bytes currently stored.
func (m *Memory) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
