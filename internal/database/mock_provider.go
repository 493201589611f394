package database

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// UpsertJudgment is the mock implementation of the UpsertJudgment method.
func (m *MockProvider) UpsertJudgment(ctx context.Context, rec harvest.JudgmentRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0) //nolint:wrapcheck
}

// MarkUploaded is the mock implementation of the MarkUploaded method.
func (m *MockProvider) MarkUploaded(ctx context.Context, recordKey, objectURI string, size int64) error {
	args := m.Called(ctx, recordKey, objectURI, size)
	return args.Error(0) //nolint:wrapcheck
}

// StartRun is the mock implementation of the StartRun method.
func (m *MockProvider) StartRun(ctx context.Context, run RunRecord) error {
	args := m.Called(ctx, run)
	return args.Error(0) //nolint:wrapcheck
}

// FinishRun is the mock implementation of the FinishRun method.
func (m *MockProvider) FinishRun(ctx context.Context, run RunRecord) error {
	args := m.Called(ctx, run)
	return args.Error(0) //nolint:wrapcheck
}

// Stats is the mock implementation of the Stats method.
func (m *MockProvider) Stats(ctx context.Context) (Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(Stats), args.Error(1)
}

// Close is the mock implementation of the Close method.
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
