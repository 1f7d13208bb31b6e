package cache

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is the in-process store used as the degraded-mode fallback
// and as the sole backend in single-process deployments. Mutations are
// serialized per backend instance; reads copy stored bytes.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      []byte
	expiresAt time.Time // zero means no backend-level expiry
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryClock overrides the time source. Used by tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) { m.now = now }
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the stored bytes for key. Expired entries are reaped lazily.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true, nil
}

// Set stores data under key.
func (m *MemoryBackend) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	e := memEntry{data: stored}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete removes key.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Keys returns all live keys matching pattern (glob, Redis KEYS style).
func (m *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		if matchPattern(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Ping always succeeds for the in-process backend.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close drops all entries.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	return nil
}

// Sweep removes every expired entry and returns the count removed.
func (m *MemoryBackend) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including not-yet-reaped
// expired ones.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// matchPattern matches key against a glob pattern with Redis KEYS
// semantics. A trailing "*" takes the fast prefix path.
func matchPattern(pattern, key string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(pattern[:len(pattern)-1], "*?[") {
		return strings.HasPrefix(key, pattern[:len(pattern)-1])
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
