package storage

import "context"

// Store is the on-device key/value persistence used by the operation queue and
// the collection cache. Values are opaque strings; callers serialize whole
// documents and write them back in one Set.
type Store interface {
	// Init prepares schema/connection state needed before first use.
	Init(ctx context.Context) error

	// Close releases resources held by the storage backend.
	Close() error

	// Get returns the value stored under key. The boolean is false when the
	// key has never been set or was removed.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
