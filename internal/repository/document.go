// Package repository defines storage interfaces implemented by concrete backends.
package repository

import "context"

// DocumentRepository is a durable key-value document with load/save semantics.
// Backends that write through (postgres, redis) treat Save as a no-op.
type DocumentRepository interface {
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// CreateIfAbsent stores value under key only when key does not exist yet
	// and reports whether it did.
	CreateIfAbsent(ctx context.Context, key, value string) (bool, error)
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Save flushes pending changes durably.
	Save(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
