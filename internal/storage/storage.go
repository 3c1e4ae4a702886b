// Package storage provides the durable key/value store the sync engine
// persists its snapshot cache and offline write queue into.  The interface
// is deliberately small: string keys, opaque byte values, prefix listing.
// Two implementations exist — an in-memory store used by tests and as a
// degraded mode when no backing service is reachable, and a Redis store
// that survives process restarts on a kiosk device.
package storage

import "context"

// Store is a scoped, durable key/value collection.  Keys are slash-
// separated paths ("pending/3/2026-03-01/42"); List returns every entry
// under a prefix.  Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value under key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all key/value pairs whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
