package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryBackend is an in-process Backend on a TTL-bounded LRU.
// The TTL is fixed at construction; per-call TTLs are ignored.
type MemoryBackend struct {
	lru *expirable.LRU[string, []byte]
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a memory backend with the given capacity and TTL.
func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	if size <= 0 {
		size = 4096
	}
	return &MemoryBackend{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns the value for key.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

// Set stores value under key. The construction-time TTL applies.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

// Delete removes a key.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Flush removes all entries.
func (m *MemoryBackend) Flush(context.Context) error {
	m.lru.Purge()
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }

// Len returns the number of live entries.
func (m *MemoryBackend) Len() int { return m.lru.Len() }
