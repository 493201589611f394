package harvest

import (
	"context"
	"time"

	"github.com/courtdata/judgment-harvester/internal/captcha"
	"github.com/courtdata/judgment-harvester/internal/queue"
)

// Portal is the search-portal capability the orchestrator drives. One portal
// session holds at most one in-flight CAPTCHA challenge.
type Portal interface {
	// FetchCaptchaImage returns the bytes of a fresh challenge for the
	// window's query form. Every call consumes a new single-use challenge.
	FetchCaptchaImage(ctx context.Context, window QueryWindow) ([]byte, error)

	// SubmitQuery fills the window's date range and the solved text and
	// submits. accepted=false means the portal rejected the CAPTCHA answer.
	SubmitQuery(ctx context.Context, window QueryWindow, solvedText string) (accepted bool, err error)

	// ListResultRows walks every result page for the submitted query.
	ListResultRows(ctx context.Context, window QueryWindow) ([]ResultRow, error)

	// FetchDocument downloads the row's judgment document.
	FetchDocument(ctx context.Context, row ResultRow) ([]byte, error)

	Close() error
}

// GateSolver runs the CAPTCHA strategy chain for one window gate.
type GateSolver interface {
	Solve(ctx context.Context, fetch captcha.FetchImageFunc) (captcha.Solution, error)
}

// MetadataStore persists judgment metadata keyed by record key.
type MetadataStore interface {
	UpsertJudgment(ctx context.Context, rec JudgmentRecord) error
	MarkUploaded(ctx context.Context, recordKey, objectURI string, size int64) error
}

// ObjectStore writes archived documents and answers existence checks.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)
	ObjectExists(ctx context.Context, key string) (exists bool, size int64, err error)
	URI(key string) string
}

// DocumentCache is the local staging area for downloaded documents. It is
// what makes the download stage resumable: a cached file survives a crash.
type DocumentCache interface {
	Exists(recordKey string) (bool, int64)
	Write(recordKey string, data []byte) (path string, err error)
	Read(recordKey string) ([]byte, error)
	Remove(recordKey string) error
}

// Notifier publishes a notification after each record is archived.
type Notifier interface {
	Publish(ctx context.Context, n queue.Notification) (string, error)
}

// SnapshotStore loads and durably saves progress snapshots.
type SnapshotStore interface {
	// Load returns the last durable snapshot, or (nil, nil) when no
	// snapshot exists yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
