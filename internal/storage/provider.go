// Package storage defines the interfaces for the archive's object store.
// This abstraction keeps the harvest loop independent of a specific storage
// implementation (Google Cloud Storage in production, memory in tests).
package storage

import (
	"context"
)

// Provider defines the common interface for a blob storage provider. The
// existence check is what makes uploads idempotent: resumed work asks before
// re-uploading instead of assuming.
type Provider interface {
	// PutObject uploads data under key and returns the object's URI.
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)

	// ObjectExists reports whether the object exists and its stored size.
	ObjectExists(ctx context.Context, key string) (exists bool, size int64, err error)

	// URI returns the address an object stored under key would have,
	// without touching the store. Resumed uploads that find the object
	// already present use it to recover the URI.
	URI(key string) string

	// Close releases client resources.
	Close() error
}

// NoOpProvider is a storage provider that performs no operations. It is
// useful for dry runs where documents are fetched but not archived.
type NoOpProvider struct{}

// PutObject for NoOpProvider discards the data and returns a placeholder URI.
func (n *NoOpProvider) PutObject(_ context.Context, key string, _ string, _ []byte) (string, error) {
	return "noop://" + key, nil
}

// ObjectExists for NoOpProvider always reports missing.
func (n *NoOpProvider) ObjectExists(_ context.Context, _ string) (bool, int64, error) {
	return false, 0, nil
}

// URI for NoOpProvider returns the placeholder address.
func (n *NoOpProvider) URI(key string) string { return "noop://" + key }

// Close for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Close() error { return nil }
