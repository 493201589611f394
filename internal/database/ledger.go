package database

import (
	"context"
	"time"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

// Ledger adapts a Provider to the run-bookkeeping interface the harvest
// loop uses.
type Ledger struct {
	provider Provider
}

// NewLedger wraps the provider.
func NewLedger(provider Provider) *Ledger {
	return &Ledger{provider: provider}
}

// StartRun records the run's opening row.
func (l *Ledger) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	return l.provider.StartRun(ctx, RunRecord{
		RunID:     runID,
		StartedAt: startedAt,
		Status:    "running",
	})
}

// FinishRun records the run's closing counters.
func (l *Ledger) FinishRun(ctx context.Context, result harvest.RunResult) error {
	return l.provider.FinishRun(ctx, RunRecord{
		RunID:         result.RunID,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
		Status:        result.Status,
		WindowsDone:   result.WindowsDone,
		TasksUploaded: result.TasksUploaded,
		TasksFailed:   result.TasksFailed,
	})
}
