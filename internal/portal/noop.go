package portal

import (
	"context"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

// NoOpClient satisfies the portal contract without touching the network.
// Dry runs use it to exercise planning and bookkeeping: every query is
// accepted and returns no rows.
type NoOpClient struct{}

// NewNoOpClient returns a portal stub.
func NewNoOpClient() *NoOpClient { return &NoOpClient{} }

// FetchCaptchaImage returns a fixed placeholder challenge.
func (*NoOpClient) FetchCaptchaImage(context.Context, harvest.QueryWindow) ([]byte, error) {
	return []byte("noop-captcha"), nil
}

// SubmitQuery accepts every submission.
func (*NoOpClient) SubmitQuery(context.Context, harvest.QueryWindow, string) (bool, error) {
	return true, nil
}

// ListResultRows returns no rows.
func (*NoOpClient) ListResultRows(context.Context, harvest.QueryWindow) ([]harvest.ResultRow, error) {
	return nil, nil
}

// FetchDocument returns an empty placeholder document.
func (*NoOpClient) FetchDocument(context.Context, harvest.ResultRow) ([]byte, error) {
	return []byte("%PDF-1.4 noop"), nil
}

// Close is a no-op.
func (*NoOpClient) Close() error { return nil }
