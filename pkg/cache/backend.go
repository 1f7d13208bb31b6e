package cache

import (
	"context"
	"fmt"
	"time"
)

// Backend is the storage protocol implemented by cache stores. Keys handed
// to a Backend are already namespaced by the Cache front.
type Backend interface {
	// Get returns the stored bytes for key, with ok=false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	// Set stores data under key. A positive ttl bounds the backend's own
	// retention; entry-level expiry is enforced by the Cache front.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys matching a glob pattern ("trials:EGFR*").
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// BackendError wraps a failure of the primary backend. It is never
// surfaced to callers of the Cache front; it triggers degraded-mode
// fallback instead.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("cache backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
