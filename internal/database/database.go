// Package database defines the interfaces for persisting judgment metadata.
// By using an interface, the harvest loop is decoupled from Postgres,
// allowing a no-op provider for dry runs and mocks in tests.
package database

import (
	"context"
	"time"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

// RunRecord is the campaign-run bookkeeping row written per harvester run.
type RunRecord struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string
	WindowsDone   int
	TasksUploaded int
	TasksFailed   int
}

// Stats aggregates judgment counts for the stats command.
type Stats struct {
	Total           int64
	Uploaded        int64
	ByCourt         map[string]int64
	LatestScrapedAt time.Time
}

// Provider defines the common interface for the metadata database.
type Provider interface {
	// UpsertJudgment inserts or updates the metadata row keyed by record
	// key. Upsert semantics make re-running after a crash safe.
	UpsertJudgment(ctx context.Context, rec harvest.JudgmentRecord) error

	// MarkUploaded records the final object location once the document is
	// in the archive.
	MarkUploaded(ctx context.Context, recordKey, objectURI string, size int64) error

	// StartRun and FinishRun bracket one harvester run for bookkeeping.
	StartRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error

	// Stats reads aggregate judgment counts.
	Stats(ctx context.Context) (Stats, error)

	// Close terminates the connection pool and releases resources.
	Close() error
}

// NoOpProvider is a database provider that performs no operations. It is
// useful for dry runs without a real database connection.
type NoOpProvider struct{}

// UpsertJudgment for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) UpsertJudgment(_ context.Context, _ harvest.JudgmentRecord) error {
	return nil
}

// MarkUploaded for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) MarkUploaded(_ context.Context, _, _ string, _ int64) error { return nil }

// StartRun for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) StartRun(_ context.Context, _ RunRecord) error { return nil }

// FinishRun for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) FinishRun(_ context.Context, _ RunRecord) error { return nil }

// Stats for NoOpProvider returns empty counts.
func (n *NoOpProvider) Stats(_ context.Context) (Stats, error) {
	return Stats{ByCourt: map[string]int64{}}, nil
}

// Close for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Close() error { return nil }
