package cache

import (
	"context"
	"time"
)

// Backend is a byte-oriented cache store. Implementations must be safe for
// concurrent use. Backend failures are treated as misses by callers; a cache
// outage costs latency, never correctness.
type Backend interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL. Implementations may
	// substitute their configured default when ttl is non-positive.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Flush removes all entries.
	Flush(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
