// Package storage defines the abstract keyed blob store used for persisted
// runtime state (agents, manifests, tasks, approvals, workflows) and provides
// the in-memory and file-backed implementations. Redis- and Mongo-backed
// stores live under features/storage.
package storage

import "context"

// Store is the abstract keyed blob store. Keys follow the layout
// "<kind>:<id>" (for example "manifest:u1"); values are opaque JSON
// documents. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the raw document for key, or ok=false when absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores or replaces the document for key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// ListKeys returns every key with the given prefix, in unspecified
	// order. An empty prefix lists all keys.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
