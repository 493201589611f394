package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// PutObject is the mock implementation of the PutObject method.
func (m *MockProvider) PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, key, contentType, data)
	return args.String(0), args.Error(1)
}

// ObjectExists is the mock implementation of the ObjectExists method.
func (m *MockProvider) ObjectExists(ctx context.Context, key string) (bool, int64, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

// URI is the mock implementation of the URI method.
func (m *MockProvider) URI(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// Close is the mock implementation of the Close method.
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
