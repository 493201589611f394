package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtdata/judgment-harvester/internal/captcha"
	"github.com/courtdata/judgment-harvester/internal/hash/sha256"
)

// memSnapshotStore keeps the snapshot in memory, deep-copied per save like a
// durable store would.
type memSnapshotStore struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
}

func (s *memSnapshotStore) Load(context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	return s.snap.Clone()
}

func (s *memSnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone, err := snap.Clone()
	if err != nil {
		return err
	}
	s.snap = clone
	s.saves++
	return nil
}

// stubGate scripts gate outcomes.
type stubGate struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (g *stubGate) Solve(_ context.Context, fetch captcha.FetchImageFunc) (captcha.Solution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := fetch(context.Background()); err != nil {
		return captcha.Solution{}, err
	}
	call := g.calls
	g.calls++
	if call < len(g.errs) && g.errs[call] != nil {
		return captcha.Solution{}, g.errs[call]
	}
	return captcha.Solution{Text: "AB12CD", Confidence: 0.9, Strategy: "ocr", Attempts: 1}, nil
}

// fakeLedger records run bookkeeping.
type fakeLedger struct {
	mu       sync.Mutex
	started  []string
	finished []RunResult
}

func (l *fakeLedger) StartRun(_ context.Context, runID string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, runID)
	return nil
}

func (l *fakeLedger) FinishRun(_ context.Context, result RunResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, result)
	return nil
}

type runnerFixture struct {
	portal    *fakePortal
	gate      *stubGate
	snapshots *memSnapshotStore
	ledger    *fakeLedger
	cache     *fakeCache
	metadata  *fakeMetadata
	objects   *fakeObjects
	notifier  *fakeNotifier
}

func newRunnerFixture() *runnerFixture {
	return &runnerFixture{
		portal:    newFakePortal(),
		gate:      &stubGate{},
		snapshots: &memSnapshotStore{},
		ledger:    &fakeLedger{},
		cache:     newFakeCache(),
		metadata:  newFakeMetadata(),
		objects:   newFakeObjects(),
		notifier:  &fakeNotifier{},
	}
}

func (fx *runnerFixture) runner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, RunnerDeps{
		Portal:    fx.portal,
		Gate:      fx.gate,
		Snapshots: fx.snapshots,
		Ledger:    fx.ledger,
		Clock:     fakeClock{t: date("2020-06-01")},
		Reconciler: ReconcilerDeps{
			Portal:       fx.portal,
			Cache:        fx.cache,
			Metadata:     fx.metadata,
			Objects:      fx.objects,
			Notifier:     fx.notifier,
			Hasher:       sha256.New(),
			Backoff:      NewBackoffPolicy(2, time.Millisecond, 2*time.Millisecond),
			Clock:        fakeClock{t: date("2020-06-01")},
			Court:        Court{Type: "supreme"},
			ObjectBucket: "archive",
			ObjectPrefix: "judgments/",
		},
	})
	require.NoError(t, err)
	return r
}

func defaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Campaign:         testCampaign(),
		WindowAttemptCap: 3,
	}
}

// seedRows points the portal at one document-backed row per given window.
func (fx *runnerFixture) seedRows(windows []QueryWindow, diaries ...string) []ResultRow {
	rows := make([]ResultRow, len(windows))
	for i, w := range windows {
		row := sampleRow(diaries[i])
		fx.portal.rows[w.ID()] = []ResultRow{row}
		fx.portal.documents[row.DocumentURL()] = []byte("judgment " + diaries[i])
		rows[i] = row
	}
	return rows
}

func TestRunnerCompletesCampaign(t *testing.T) {
	fx := newRunnerFixture()
	windows := plannedWindows(t)
	fx.seedRows(windows, "100/2020", "200/2020")

	result, err := fx.runner(t, defaultRunnerConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 2, result.WindowsDone)
	assert.Zero(t, result.WindowsFailed)
	assert.Equal(t, 2, result.TasksUploaded)
	assert.Zero(t, result.TasksFailed)

	snap, err := fx.snapshots.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.AllWindowsTerminal())
	assert.Equal(t, result.RunID, snap.LastRunID)
	require.NoError(t, snap.Validate())

	assert.Equal(t, []string{result.RunID}, fx.ledger.started)
	require.Len(t, fx.ledger.finished, 1)
	assert.Equal(t, RunStatusCompleted, fx.ledger.finished[0].Status)
	assert.Len(t, fx.notifier.published, 2)
}

func TestRunnerGateFailureDefersWindow(t *testing.T) {
	fx := newRunnerFixture()
	windows := plannedWindows(t)
	fx.seedRows(windows, "100/2020", "200/2020")
	// First gate attempt (window one) exhausts the CAPTCHA budget; every
	// later attempt succeeds.
	fx.gate.errs = []error{captcha.ErrExhausted}

	result, err := fx.runner(t, defaultRunnerConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 2, result.WindowsDone, "the deferred window succeeds on the next pass")

	snap, err := fx.snapshots.Load(context.Background())
	require.NoError(t, err)
	w := snap.Window(windows[0].ID())
	require.NotNil(t, w)
	assert.Equal(t, WindowDone, w.Status)
	assert.Equal(t, 1, w.AttemptCount, "the failed gate attempt is recorded")
}

func TestRunnerRejectedCaptchaCountsAsGateFailure(t *testing.T) {
	fx := newRunnerFixture()
	windows := plannedWindows(t)
	fx.seedRows(windows, "100/2020", "200/2020")
	// The portal rejects the first submission for window one.
	fx.portal.submits[windows[0].ID()] = []bool{false, true}

	result, err := fx.runner(t, defaultRunnerConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.WindowsDone)

	snap, err := fx.snapshots.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Window(windows[0].ID()).AttemptCount)
}

func TestRunnerWindowFailsAtAttemptCap(t *testing.T) {
	fx := newRunnerFixture()
	windows := plannedWindows(t)
	fx.seedRows(windows, "100/2020", "200/2020")
	fx.portal.submitErr[windows[0].ID()] = errors.New("portal unreachable")

	cfg := defaultRunnerConfig()
	cfg.WindowAttemptCap = 2
	result, err := fx.runner(t, cfg).Run(context.Background())
	require.NoError(t, err, "window failures are state, not run errors")

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 1, result.WindowsDone)
	assert.Equal(t, 1, result.WindowsFailed)

	snap, err := fx.snapshots.Load(context.Background())
	require.NoError(t, err)
	failed := snap.Window(windows[0].ID())
	assert.Equal(t, WindowFailed, failed.Status)
	assert.Equal(t, 2, failed.AttemptCount)
	assert.Equal(t, WindowDone, snap.Window(windows[1].ID()).Status,
		"a stuck window never blocks the rest of the campaign")
}

func TestRunnerResumesMidWindow(t *testing.T) {
	fx := newRunnerFixture()
	windows := plannedWindows(t)
	rows := fx.seedRows(windows, "100/2020", "200/2020")

	// A previous run crashed after downloading window one's document and
	// finishing window two entirely.
	prior := NewSnapshot(testCampaign(), windows)
	downloaded := prior.UpsertTask(windows[0].ID(), rows[0])
	downloaded.Status = TaskDownloaded
	_, err := fx.cache.Write(downloaded.RecordKey, []byte("judgment 100/2020"))
	require.NoError(t, err)
	finished := prior.UpsertTask(windows[1].ID(), rows[1])
	finished.Status = TaskUploaded
	require.NoError(t, prior.MarkWindowDone(windows[1].ID()))
	require.NoError(t, fx.snapshots.Save(context.Background(), prior))

	result, err := fx.runner(t, defaultRunnerConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, result.Status)
	assert.Equal(t, 2, result.WindowsDone)
	assert.Equal(t, 2, result.TasksUploaded)
	assert.Zero(t, fx.portal.fetchCalls, "the staged download is reused")
	assert.Equal(t, 1, fx.gate.calls, "the done window is not re-queried")
	assert.Equal(t, 1, fx.objects.puts, "the uploaded task is not reprocessed")
}

func TestRunnerInvalidRangeAborts(t *testing.T) {
	fx := newRunnerFixture()
	cfg := defaultRunnerConfig()
	cfg.Campaign.GlobalStart = date("2021-01-01")
	cfg.Campaign.GlobalEnd = date("2020-01-01")

	_, err := fx.runner(t, cfg).Run(context.Background())
	var rangeErr *InvalidRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Empty(t, fx.ledger.started, "nothing is recorded for an unplannable campaign")
}

func TestRunnerInterruptedByCancellation(t *testing.T) {
	fx := newRunnerFixture()
	windows := plannedWindows(t)
	fx.seedRows(windows, "100/2020", "200/2020")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := fx.runner(t, defaultRunnerConfig()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RunStatusInterrupted, result.Status)
	require.Len(t, fx.ledger.finished, 1)
	assert.Equal(t, RunStatusInterrupted, fx.ledger.finished[0].Status)
}
