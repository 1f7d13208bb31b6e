package cache

import (
	"context"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a shared Redis instance, the primary
// networked store for multi-process deployments.
type RedisBackend struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisPrefix sets the key namespace prefix. Default "trialmatch:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisBackend) { r.prefix = prefix }
}

// NewRedisBackend creates a backend talking to the given address.
func NewRedisBackend(address, password string, db int, opts ...RedisOption) *RedisBackend {
	client := backend.NewClient(&backend.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return newRedisBackend(client, opts...)
}

// NewRedisBackendFromClient wraps an existing client. Used by tests.
func NewRedisBackendFromClient(client *backend.Client, opts ...RedisOption) *RedisBackend {
	return newRedisBackend(client, opts...)
}

func newRedisBackend(client *backend.Client, opts ...RedisOption) *RedisBackend {
	r := &RedisBackend{
		client: client,
		prefix: "trialmatch:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisBackend) key(k string) string { return r.prefix + k }

// Get returns the stored bytes for key.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == backend.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &BackendError{Op: "get", Err: err}
	}
	return data, true, nil
}

// Set stores data under key with an expiration. A non-positive ttl stores
// without expiry.
func (r *RedisBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return &BackendError{Op: "set", Err: err}
	}
	return nil
}

// Delete removes key.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return &BackendError{Op: "delete", Err: err}
	}
	return nil
}

// Keys returns all keys matching the glob pattern, with the namespace
// prefix stripped.
func (r *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	raw, err := r.client.Keys(ctx, r.key(pattern)).Result()
	if err != nil {
		return nil, &BackendError{Op: "keys", Err: err}
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(r.prefix):])
	}
	return keys, nil
}

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
