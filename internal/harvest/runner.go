package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/events"
)

// Run statuses recorded in the run ledger.
const (
	RunStatusCompleted   = "completed"
	RunStatusInterrupted = "interrupted"
)

// RunResult summarizes one campaign run for the ledger and the caller.
type RunResult struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string
	WindowsDone   int
	WindowsFailed int
	TasksUploaded int
	TasksFailed   int
}

// RunLedger records campaign-run bookkeeping. The metadata database provides
// the production implementation.
type RunLedger interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, result RunResult) error
}

// NopLedger discards run bookkeeping.
type NopLedger struct{}

// StartRun does nothing.
func (NopLedger) StartRun(context.Context, string, time.Time) error { return nil }

// FinishRun does nothing.
func (NopLedger) FinishRun(context.Context, RunResult) error { return nil }

// RunnerConfig carries the campaign parameters the orchestration loop needs.
type RunnerConfig struct {
	Campaign CampaignInfo

	// WindowAttemptCap bounds gate attempts per window before it goes
	// Failed.
	WindowAttemptCap int

	// WindowDelay is the politeness pause between window queries.
	WindowDelay time.Duration
}

// Validate rejects configurations the loop cannot terminate under.
func (c RunnerConfig) Validate() error {
	if c.WindowAttemptCap < 1 {
		return fmt.Errorf("window attempt cap must be at least 1")
	}
	if c.Campaign.MaxSpanDays < 1 {
		return fmt.Errorf("max window span must be at least one day")
	}
	return nil
}

// RunnerDeps bundles the collaborators the orchestration loop drives. The
// reconciler dependencies ride along because the runner constructs one
// reconciler per run.
type RunnerDeps struct {
	Portal     Portal
	Gate       GateSolver
	Snapshots  SnapshotStore
	Ledger     RunLedger
	Clock      Clock
	Logger     *zap.Logger
	Emitter    events.Emitter
	Reconciler ReconcilerDeps
}

// Runner drives one campaign: plan or resume the snapshot, pass over the
// non-terminal windows until every window is terminal, and reconcile each
// window's record tasks. It runs on a single goroutine; the portal session
// and the in-flight CAPTCHA are never shared.
type Runner struct {
	cfg  RunnerConfig
	deps RunnerDeps
}

// NewRunner validates configuration and dependencies.
func NewRunner(cfg RunnerConfig, deps RunnerDeps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Portal == nil || deps.Gate == nil || deps.Snapshots == nil {
		return nil, fmt.Errorf("runner requires portal, gate solver, and snapshot store")
	}
	if deps.Ledger == nil {
		deps.Ledger = NopLedger{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Nop{}
	}
	return &Runner{cfg: cfg, deps: deps}, nil
}

// Run executes one campaign run to completion or interruption. Stage and
// window failures become snapshot state; only an invalid campaign range,
// corrupt durable state, snapshot persistence failure, and cancellation
// surface as errors.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	runID := uuid.NewString()
	startedAt := r.deps.Clock.Now().UTC()
	result := RunResult{RunID: runID, StartedAt: startedAt, Status: RunStatusInterrupted}
	logger := r.deps.Logger.With(zap.String("run_id", runID))

	planned, err := PlanWindows(r.cfg.Campaign.GlobalStart, r.cfg.Campaign.GlobalEnd, r.cfg.Campaign.MaxSpanDays)
	if err != nil {
		return result, err
	}

	snap, err := r.deps.Snapshots.Load(ctx)
	if err != nil {
		return result, err
	}
	if snap == nil {
		snap = NewSnapshot(r.cfg.Campaign, planned)
		logger.Info("starting fresh campaign",
			zap.Int("windows", len(snap.Windows)),
		)
	} else {
		before := len(snap.Windows)
		snap.Reconcile(planned)
		logger.Info("resuming campaign",
			zap.Int("windows_resumed", before),
			zap.Int("windows_added", len(snap.Windows)-before),
		)
	}
	snap.LastRunID = runID

	save := func(c context.Context) error {
		return r.deps.Snapshots.Save(c, snap)
	}
	if err := save(ctx); err != nil {
		return result, fmt.Errorf("persist initial snapshot: %w", err)
	}

	if err := r.deps.Ledger.StartRun(ctx, runID, startedAt); err != nil {
		logger.Warn("recording run start failed", zap.Error(err))
	}
	r.emit(runID, events.Event{Kind: events.KindRunStart})

	reconciler, err := NewReconciler(r.deps.Reconciler, runID)
	if err != nil {
		return result, err
	}

	runErr := r.passes(ctx, logger, snap, reconciler, save)

	summary := snap.Summarize()
	result.FinishedAt = r.deps.Clock.Now().UTC()
	result.WindowsDone = summary.WindowCounts[WindowDone]
	result.WindowsFailed = summary.WindowCounts[WindowFailed]
	result.TasksUploaded = summary.TaskCounts[TaskUploaded]
	result.TasksFailed = summary.TaskCounts[TaskFailed]
	if runErr == nil {
		result.Status = RunStatusCompleted
	}

	// Bookkeeping must survive cancellation; use a short detached context.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.deps.Ledger.FinishRun(finishCtx, result); err != nil {
		logger.Warn("recording run finish failed", zap.Error(err))
	}
	if err := save(finishCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("persist final snapshot: %w", err)
	}
	r.emit(runID, events.Event{Kind: events.KindRunDone, Status: result.Status})
	logger.Info("run finished",
		zap.String("status", result.Status),
		zap.Int("windows_done", result.WindowsDone),
		zap.Int("windows_failed", result.WindowsFailed),
		zap.Int("tasks_uploaded", result.TasksUploaded),
		zap.Int("tasks_failed", result.TasksFailed),
	)
	return result, runErr
}

// passes sweeps the windows in order until all are terminal. A window whose
// gate fails is deferred to the next pass rather than retried in place, so a
// stuck window never starves the rest of the campaign.
func (r *Runner) passes(ctx context.Context, logger *zap.Logger, snap *Snapshot, reconciler *Reconciler, save SaveFunc) error {
	for !snap.AllWindowsTerminal() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted: %w", err)
		}
		progressed := false
		for i := range snap.Windows {
			w := &snap.Windows[i]
			if w.Status.Terminal() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
			progressed = true
			if err := r.processWindow(ctx, logger, snap, w, reconciler, save); err != nil {
				return err
			}
			if err := r.pause(ctx); err != nil {
				return err
			}
		}
		if !progressed {
			// A pass that touched no window would spin forever.
			return fmt.Errorf("no progress possible with %d non-terminal windows", len(snap.Windows))
		}
	}
	return nil
}

// processWindow runs one gate attempt for the window and, on success,
// reconciles every non-terminal task it owns.
func (r *Runner) processWindow(ctx context.Context, logger *zap.Logger, snap *Snapshot, w *QueryWindow, reconciler *Reconciler, save SaveFunc) error {
	runID := snap.LastRunID
	windowID := w.ID()
	logger = logger.With(zap.String("window", windowID))

	w.Status = WindowInProgress
	r.emit(runID, events.Event{Kind: events.KindWindowStart, WindowID: windowID})

	rows, gateErr := r.openGate(ctx, runID, *w)
	if gateErr != nil {
		if errors.Is(gateErr, context.Canceled) || errors.Is(gateErr, context.DeadlineExceeded) {
			w.Status = WindowPending
			if err := save(ctx); err != nil {
				logger.Warn("persisting deferred window failed", zap.Error(err))
			}
			return fmt.Errorf("window %s interrupted: %w", windowID, gateErr)
		}
		return r.deferWindow(ctx, logger, runID, w, gateErr, save)
	}

	// Index fresh rows so resumed tasks without a live row still reconcile.
	rowByKey := make(map[string]*ResultRow, len(rows))
	for i := range rows {
		rowByKey[rows[i].RecordKey()] = &rows[i]
		snap.UpsertTask(windowID, rows[i])
	}
	if err := save(ctx); err != nil {
		return fmt.Errorf("persist discovered tasks: %w", err)
	}

	for _, task := range snap.TasksForWindow(windowID) {
		if task.Status.Terminal() {
			continue
		}
		if err := reconciler.Reconcile(ctx, task, rowByKey[task.RecordKey], save); err != nil {
			return err
		}
	}

	if err := snap.MarkWindowDone(windowID); err != nil {
		return fmt.Errorf("mark window done: %w", err)
	}
	r.emit(runID, events.Event{Kind: events.KindWindowDone, WindowID: windowID, Status: string(WindowDone)})
	if err := save(ctx); err != nil {
		return fmt.Errorf("persist completed window: %w", err)
	}
	logger.Info("window done", zap.Int("tasks", len(snap.TasksForWindow(windowID))))
	return nil
}

// openGate solves the window's CAPTCHA, submits the query, and lists the
// result rows. Any failure is window-scoped.
func (r *Runner) openGate(ctx context.Context, runID string, w QueryWindow) ([]ResultRow, error) {
	windowID := w.ID()
	fetch := func(c context.Context) ([]byte, error) {
		return r.deps.Portal.FetchCaptchaImage(c, w)
	}
	solution, err := r.deps.Gate.Solve(ctx, fetch)
	if err != nil {
		return nil, &GateError{WindowID: windowID, Err: err}
	}
	r.emit(runID, events.Event{
		Kind:     events.KindCaptchaSolved,
		WindowID: windowID,
		Note:     solution.Strategy,
	})

	accepted, err := r.deps.Portal.SubmitQuery(ctx, w, solution.Text)
	if err != nil {
		return nil, &GateError{WindowID: windowID, Err: err}
	}
	if !accepted {
		return nil, &GateError{WindowID: windowID, Err: fmt.Errorf("portal rejected the solved captcha")}
	}

	rows, err := r.deps.Portal.ListResultRows(ctx, w)
	if err != nil {
		return nil, &GateError{WindowID: windowID, Err: fmt.Errorf("list result rows: %w", err)}
	}
	return rows, nil
}

// deferWindow books a failed gate attempt: the window returns to Pending for
// a later pass, or goes Failed once it hits the attempt cap.
func (r *Runner) deferWindow(ctx context.Context, logger *zap.Logger, runID string, w *QueryWindow, cause error, save SaveFunc) error {
	windowID := w.ID()
	w.AttemptCount++
	if w.AttemptCount >= r.cfg.WindowAttemptCap {
		w.Status = WindowFailed
		r.emit(runID, events.Event{
			Kind:     events.KindWindowFailed,
			WindowID: windowID,
			Status:   string(WindowFailed),
			Note:     cause.Error(),
		})
		logger.Error("window failed at attempt cap",
			zap.Int("attempts", w.AttemptCount),
			zap.Error(cause),
		)
	} else {
		w.Status = WindowPending
		r.emit(runID, events.Event{
			Kind:     events.KindWindowDefer,
			WindowID: windowID,
			Note:     cause.Error(),
		})
		logger.Warn("window deferred",
			zap.Int("attempts", w.AttemptCount),
			zap.Error(cause),
		)
	}
	if err := save(ctx); err != nil {
		return fmt.Errorf("persist deferred window: %w", err)
	}
	return nil
}

// pause applies the politeness delay between window queries.
func (r *Runner) pause(ctx context.Context) error {
	if r.cfg.WindowDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(r.cfg.WindowDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// emit stamps run identity and time onto the event before publishing.
func (r *Runner) emit(runID string, evt events.Event) {
	evt.RunID = runID
	if evt.TS.IsZero() {
		evt.TS = r.deps.Clock.Now().UTC()
	}
	r.deps.Emitter.Emit(evt)
}
