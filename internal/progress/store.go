// Package progress persists the campaign snapshot durably. The snapshot is
// the sole unit of crash recovery: every save rewrites the whole document
// with an atomic temp-file-and-rename, so a crash can never leave a partial
// snapshot behind.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/harvest"
	"github.com/courtdata/judgment-harvester/internal/metrics"
)

// CorruptStateError reports a snapshot that exists but cannot be trusted:
// unreadable, unparseable, or failing its internal consistency checks. It is
// fatal; the store surfaces it rather than repairing silently.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt progress snapshot %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err wraps a CorruptStateError.
func IsCorrupt(err error) bool {
	var ce *CorruptStateError
	return errors.As(err, &ce)
}

// Store reads and writes the snapshot file. A single writer is assumed;
// snapshot writes are serialized with the mutations they record.
type Store struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore builds a store for the snapshot at path, creating the parent
// directory if needed.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{path: path, logger: logger, now: time.Now}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Load returns the last durable snapshot, or (nil, nil) when none exists.
// A snapshot that fails to parse or fails validation returns a
// CorruptStateError.
func (s *Store) Load(ctx context.Context) (*harvest.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("snapshot load canceled: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	var snap harvest.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	if err := snap.Validate(); err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	s.logger.Info("progress snapshot loaded",
		zap.Int("windows", len(snap.Windows)),
		zap.Int("tasks", len(snap.Tasks)),
		zap.Time("updated_at", snap.UpdatedAt),
	)
	return &snap, nil
}

// Save persists the snapshot atomically: write to a temp file in the same
// directory, fsync, rename over the target. UpdatedAt is stamped on every
// save.
func (s *Store) Save(ctx context.Context, snap *harvest.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("snapshot save canceled: %w", err)
	}
	snap.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // write error wins
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // sync error wins
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	metrics.ObserveSnapshotSave()
	return nil
}

// Delete removes the snapshot file. Missing files are not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
