// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore stores objects in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, key string, _ string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", key), nil
}

// ObjectExists reports whether the key was stored and the stored size.
func (s *BlobStore) ObjectExists(_ context.Context, key string) (bool, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return false, 0, nil
	}
	return true, int64(len(data)), nil
}

// URI returns the memory:// address for key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("memory://%s", key)
}

// Get returns the stored content for assertions in tests.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close implements Provider; it performs no action.
func (s *BlobStore) Close() error { return nil }
