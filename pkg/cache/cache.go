package cache

import (
	"context"
	"time"

	"github.com/c360/trafficstreams/errors"
)

// Cache is a thread-safe keyed store whose entries expire.
type Cache[V any] interface {
	// Get returns the value if present and not expired.
	Get(key string) (V, bool)

	// GetEntry returns the value together with its write and expiry times.
	GetEntry(key string) (Entry[V], bool)

	// Set stores a value. Returns true if a new entry was created, false if updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the number of stored entries, including expired ones not yet swept.
	Size() int

	// Keys returns the keys of all live entries.
	Keys() []string

	// Stats returns cache statistics (always collected).
	Stats() *Statistics

	// Close stops the background sweeper.
	Close() error
}

// EvictCallback is called with the key and value of every removed entry.
type EvictCallback[V any] func(key string, value V)

// Entry is a stored value with its bookkeeping times.
type Entry[V any] struct {
	Key       string
	Value     V
	StoredAt  time.Time
	ExpiresAt time.Time
}

// NewTTL creates a cache whose entries live for ttl. Expired entries are swept every
// cleanupInterval until ctx ends or Close is called.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL", "ttl must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	return newTTLCache(ctx, ttl, cleanupInterval, applyOptions(options...))
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
