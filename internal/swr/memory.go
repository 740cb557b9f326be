package swr

import (
	"context"
	"sync"
	"time"
)

type memItem struct {
	value []byte
	meta  Meta
}

// Memory is an in-process Backend. Value and Meta live in one map entry
// under one lock, so they are never observed apart.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memItem
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memItem)}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, Meta, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	if !ok {
		return nil, Meta{}, false, nil
	}
	return append([]byte(nil), it.value...), it.meta, true, nil
}

func (m *Memory) Store(_ context.Context, key string, value []byte, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: append([]byte(nil), value...), meta: meta}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// PruneCache drops entries whose expiry is before now.
func (m *Memory) PruneCache(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, it := range m.items {
		if !it.meta.ExpiresAt.IsZero() && !now.Before(it.meta.ExpiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}
