package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Backend is the durable key/value blob primitive shared by every process.
// Revisions start at 0 for a missing key and increase by one per write.
type Backend interface {
	// Load returns the value and revision for key. A missing key yields
	// a nil value at revision 0 and no error.
	Load(ctx context.Context, key string) ([]byte, int64, error)
	// Save writes value if the stored revision still equals expected and
	// returns the new revision. A mismatch yields ErrConflict.
	Save(ctx context.Context, key string, value []byte, expected int64) (int64, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type memoryEntry struct {
	value    []byte
	revision int64
}

// MemoryBackend is an in-process Backend, mostly for tests
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, 0, nil
	}
	return append([]byte(nil), e.value...), e.revision, nil
}

func (m *MemoryBackend) Save(_ context.Context, key string, value []byte, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.entries[key]
	if cur.revision != expected {
		return cur.revision, ErrConflict
	}
	next := memoryEntry{value: append([]byte(nil), value...), revision: expected + 1}
	m.entries[key] = next
	return next.revision, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Put overwrites key unconditionally. Tests use it to plant raw bytes.
func (m *MemoryBackend) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.entries[key]
	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), revision: cur.revision + 1}
}
