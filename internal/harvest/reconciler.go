package harvest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/events"
	"github.com/courtdata/judgment-harvester/internal/metrics"
	"github.com/courtdata/judgment-harvester/internal/queue"
)

// SaveFunc durably persists the snapshot the task under reconciliation
// belongs to. The reconciler calls it after every task transition.
type SaveFunc func(ctx context.Context) error

// ReconcilerDeps bundles the collaborators a Reconciler drives.
type ReconcilerDeps struct {
	Portal   Portal
	Cache    DocumentCache
	Metadata MetadataStore
	Objects  ObjectStore
	Notifier Notifier
	Hasher   Hasher
	Backoff  *BackoffPolicy
	Clock    Clock
	Logger   *zap.Logger
	Emitter  events.Emitter

	// Court identity and object layout stamped into metadata and keys.
	Court        Court
	ObjectBucket string
	ObjectPrefix string

	// RemoveCached drops the local document after a successful upload.
	RemoveCached bool
}

// Reconciler advances record tasks through the download, metadata, and
// upload stages. Every stage is idempotent and verified against the external
// system rather than assumed from snapshot state, so running a task twice
// converges instead of duplicating work.
type Reconciler struct {
	deps  ReconcilerDeps
	runID string
}

// NewReconciler validates the dependency set and builds a Reconciler for
// one campaign run.
func NewReconciler(deps ReconcilerDeps, runID string) (*Reconciler, error) {
	if deps.Portal == nil || deps.Cache == nil || deps.Metadata == nil || deps.Objects == nil {
		return nil, fmt.Errorf("reconciler requires portal, cache, metadata, and object store")
	}
	if deps.Backoff == nil {
		return nil, fmt.Errorf("reconciler requires a backoff policy")
	}
	if deps.Hasher == nil {
		return nil, fmt.Errorf("reconciler requires a hasher")
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
	return &Reconciler{deps: deps, runID: runID}, nil
}

// Reconcile drives the task to a terminal status. row carries the freshly
// parsed result row when the task was just discovered; on resume it is nil
// and the metadata upsert works from the fields the task retained. Stage
// failures become task state, not errors: only cancellation and snapshot
// persistence failures propagate.
func (r *Reconciler) Reconcile(ctx context.Context, task *RecordTask, row *ResultRow, save SaveFunc) error {
	for !task.Status.Terminal() {
		// Cancellation is honored between stages; an in-flight stage
		// runs to completion or failure first.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("reconcile %s interrupted: %w", task.RecordKey, err)
		}

		var (
			next  TaskStatus
			stage func(context.Context) error
		)
		switch task.Status {
		case TaskDiscovered:
			next, stage = TaskDownloaded, func(c context.Context) error { return r.download(c, task) }
		case TaskDownloaded:
			next, stage = TaskMetadataPersisted, func(c context.Context) error { return r.persistMetadata(c, task, row) }
		case TaskMetadataPersisted:
			next, stage = TaskUploaded, func(c context.Context) error { return r.upload(c, task) }
		default:
			return fmt.Errorf("task %s in unexpected status %s", task.RecordKey, task.Status)
		}

		if err := r.runStage(ctx, task, string(next), stage); err != nil {
			if failErr := r.failTask(ctx, task, err, save); failErr != nil {
				return failErr
			}
			return nil
		}

		task.Status = next
		task.ErrorMessage = ""
		r.emit(events.Event{
			Kind:      events.KindTaskStage,
			WindowID:  task.WindowID,
			RecordKey: task.RecordKey,
			Stage:     string(next),
			Bytes:     task.FileSize,
		})
		if err := save(ctx); err != nil {
			return fmt.Errorf("persist after %s stage: %w", next, err)
		}
	}

	if task.Status == TaskUploaded {
		r.emit(events.Event{
			Kind:      events.KindTaskTerminal,
			WindowID:  task.WindowID,
			RecordKey: task.RecordKey,
			Status:    string(TaskUploaded),
			Bytes:     task.FileSize,
		})
	}
	return nil
}

// runStage executes one stage with the retry policy. Transient failures back
// off and retry up to the attempt cap; the task's attempt count records
// every failed try.
func (r *Reconciler) runStage(ctx context.Context, task *RecordTask, stageName string, stage func(context.Context) error) error {
	attempt := 0
	for {
		err := stage(ctx)
		if err == nil {
			return nil
		}
		attempt++
		task.AttemptCount++
		task.ErrorMessage = err.Error()
		if !r.deps.Backoff.ShouldRetry(err, attempt) {
			return err
		}
		r.deps.Logger.Warn("stage failed, retrying",
			zap.String("record_key", task.RecordKey),
			zap.String("stage", stageName),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if waitErr := r.deps.Backoff.Wait(ctx, attempt); waitErr != nil {
			return fmt.Errorf("%s: %w", err, waitErr)
		}
	}
}

// failTask records a terminal failure and persists it.
func (r *Reconciler) failTask(ctx context.Context, task *RecordTask, cause error, save SaveFunc) error {
	task.Status = TaskFailed
	task.ErrorMessage = cause.Error()
	r.emit(events.Event{
		Kind:      events.KindTaskTerminal,
		WindowID:  task.WindowID,
		RecordKey: task.RecordKey,
		Status:    string(TaskFailed),
		Note:      task.ErrorMessage,
	})
	r.deps.Logger.Error("task failed",
		zap.String("record_key", task.RecordKey),
		zap.String("window", task.WindowID),
		zap.Error(cause),
	)
	if err := save(ctx); err != nil {
		return fmt.Errorf("persist failed task %s: %w", task.RecordKey, err)
	}
	return nil
}

// download ensures the document is staged in the local cache. A cached file
// with content is trusted; otherwise the portal is asked for the bytes.
func (r *Reconciler) download(ctx context.Context, task *RecordTask) error {
	if exists, size := r.deps.Cache.Exists(task.RecordKey); exists {
		task.FileSize = size
		return nil
	}
	if task.DocumentURL == "" {
		return Permanent("download", fmt.Errorf("record %s has no document link", task.RecordKey))
	}
	data, err := r.deps.Portal.FetchDocument(ctx, ResultRow{
		DiaryNumber:   task.DiaryNumber,
		CaseNumber:    task.CaseNumber,
		JudgmentDate:  task.JudgmentDate,
		DocumentLinks: []string{task.DocumentURL},
	})
	if err != nil {
		return Transient("download", err)
	}
	if _, err := r.deps.Cache.Write(task.RecordKey, data); err != nil {
		return Transient("stage document", err)
	}
	task.FileSize = int64(len(data))
	return nil
}

// persistMetadata upserts the judgment metadata row. The content hash is
// computed from the cached document so interrupted runs hash the same bytes
// they will later upload.
func (r *Reconciler) persistMetadata(ctx context.Context, task *RecordTask, row *ResultRow) error {
	data, err := r.deps.Cache.Read(task.RecordKey)
	if err != nil {
		return Transient("read cached document", err)
	}
	hash, err := r.deps.Hasher.Hash(data)
	if err != nil {
		return Permanent("hash document", err)
	}
	task.ContentHash = hash
	task.FileSize = int64(len(data))

	rec := r.buildRecord(task, row)
	if err := r.deps.Metadata.UpsertJudgment(ctx, rec); err != nil {
		return Transient("upsert metadata", err)
	}
	return nil
}

// upload archives the cached document under its deterministic object key,
// records the object URI in the metadata store, and publishes a
// notification. An object already present with the expected size is not
// re-uploaded.
func (r *Reconciler) upload(ctx context.Context, task *RecordTask) error {
	key := ObjectKey(r.deps.ObjectPrefix, task.JudgmentDate, task.RecordKey)

	exists, size, err := r.deps.Objects.ObjectExists(ctx, key)
	if err != nil {
		return Transient("check object", err)
	}
	if exists && task.FileSize > 0 && size == task.FileSize {
		task.ObjectURI = r.deps.Objects.URI(key)
		metrics.ObserveUpload(true)
	} else {
		data, err := r.deps.Cache.Read(task.RecordKey)
		if err != nil {
			return Transient("read cached document", err)
		}
		uri, err := r.deps.Objects.PutObject(ctx, key, DocumentContentType, data)
		if err != nil {
			return Transient("upload object", err)
		}
		task.ObjectURI = uri
		task.FileSize = int64(len(data))
		metrics.ObserveUpload(false)
	}

	if err := r.deps.Metadata.MarkUploaded(ctx, task.RecordKey, task.ObjectURI, task.FileSize); err != nil {
		return Transient("record object uri", err)
	}

	if r.deps.Notifier != nil {
		_, err := r.deps.Notifier.Publish(ctx, queue.Notification{
			RecordKey:    task.RecordKey,
			DiaryNumber:  task.DiaryNumber,
			CaseNumber:   task.CaseNumber,
			JudgmentDate: task.JudgmentDate,
			ObjectURI:    task.ObjectURI,
			FileSize:     task.FileSize,
			RunID:        r.runID,
			Event:        "record_archived",
		})
		if err != nil {
			return Transient("publish notification", err)
		}
	}

	if r.deps.RemoveCached {
		if err := r.deps.Cache.Remove(task.RecordKey); err != nil {
			r.deps.Logger.Warn("removing cached document failed",
				zap.String("record_key", task.RecordKey),
				zap.Error(err),
			)
		}
	}
	return nil
}

// buildRecord assembles the metadata document. A fresh row contributes the
// descriptive columns; a resumed task falls back to the identity fields it
// retained.
func (r *Reconciler) buildRecord(task *RecordTask, row *ResultRow) JudgmentRecord {
	rec := JudgmentRecord{
		RecordKey:    task.RecordKey,
		Court:        r.deps.Court,
		DiaryNumber:  task.DiaryNumber,
		CaseNumber:   task.CaseNumber,
		JudgmentDate: task.JudgmentDate,
		FileSize:     task.FileSize,
		ContentHash:  task.ContentHash,
		ObjectBucket: r.deps.ObjectBucket,
		ObjectKey:    ObjectKey(r.deps.ObjectPrefix, task.JudgmentDate, task.RecordKey),
		ScrapedAt:    r.deps.Clock.Now().UTC(),
	}
	if task.DocumentURL != "" {
		rec.DocumentLinks = []string{task.DocumentURL}
	}
	if row != nil {
		rec.SerialNumber = row.SerialNumber
		rec.PetitionerRespondent = row.PetitionerRespondent
		rec.Advocate = row.Advocate
		rec.Bench = row.Bench
		rec.JudgmentBy = row.JudgmentBy
		if len(row.DocumentLinks) > 0 {
			rec.DocumentLinks = append([]string(nil), row.DocumentLinks...)
		}
	}
	if from, to, ok := splitWindowID(task.WindowID); ok {
		rec.SearchFromDate = from
		rec.SearchToDate = to
	}
	return rec
}

// splitWindowID recovers the window's date range from its identifier.
func splitWindowID(id string) (from, to string, ok bool) {
	parts := strings.SplitN(id, "..", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// emit stamps run identity and time onto the event before publishing.
func (r *Reconciler) emit(evt events.Event) {
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.deps.Clock.Now().UTC()
	}
	r.deps.Emitter.Emit(evt)
}
