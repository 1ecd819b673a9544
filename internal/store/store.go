// Package store provides the key-value persistence behind the catalog.
//
// Collections are stored wholesale under a single key each, mirroring how
// the site persists its catalog: no partial updates, no versioning, last
// write wins. Three backends implement [KV]: [MemStore] for tests and
// ephemeral deployments, [SQLiteStore] for a single-node deployment, and
// [PostgresStore] for a shared database.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("store: not found")

// KV is a minimal persistent key-value store. Implementations must be safe
// for concurrent use.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// MemStore is an in-memory [KV].
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ KV = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// Get implements KV. The returned slice is a copy.
func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements KV.
func (m *MemStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Ping implements KV.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements KV.
func (m *MemStore) Close() error { return nil }
