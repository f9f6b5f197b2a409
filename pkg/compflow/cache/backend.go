// Package cache provides the result cache shared by concurrent flows.
//
// A Store keeps whole entries keyed by an opaque string, honours per-entry
// TTLs, and bounds its size with least-recently-used eviction. Entries are
// persisted through a Backend, so the same Store logic runs over process
// memory, SQLite or Redis.
package cache

import (
	"context"
	"errors"
	"time"
)

// Backend persists opaque values by key.
// Implementations must be safe for concurrent use. Per-key operations only
// need to be eventually consistent; a TTL passed to Set must be honoured.
type Backend interface {
	// Get returns the value stored at key.
	// Returns ErrNotFound if the key is absent or its TTL elapsed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data at key, replacing any previous value.
	// A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Clear removes every key owned by this backend.
	Clear(ctx context.Context) error

	// Keys lists the live keys, oldest write first where the backend
	// can tell.
	Keys(ctx context.Context) ([]string, error)

	// Len returns the number of live keys.
	Len(ctx context.Context) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for cache operations.
var (
	// ErrNotFound indicates a key doesn't exist.
	ErrNotFound = errors.New("cache entry not found")

	// ErrClosed indicates the store or backend has been closed.
	ErrClosed = errors.New("cache closed")
)
