// Package cache implements the local staging area for downloaded judgment
// documents. A cached file is what makes the download stage resumable: after
// a crash the reconciler finds the file on disk and skips straight to the
// next stage instead of re-downloading.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cache stores documents under a base directory, one file per record key.
type Cache struct {
	baseDir string
}

// New creates a document cache rooted at baseDir, creating it if needed and
// verifying it is writable.
func New(baseDir string) (*Cache, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("cache base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create cache dir: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat cache dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("cache path %s is not a directory", baseDir)
	}

	probe := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return nil, fmt.Errorf("cache dir is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Cache{baseDir: baseDir}, nil
}

// Exists reports whether a non-empty cached document exists for the key.
func (c *Cache) Exists(recordKey string) (bool, int64) {
	path, err := c.path(recordKey)
	if err != nil {
		return false, 0
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false, 0
	}
	return true, info.Size()
}

// Write stores the document atomically (temp file then rename) and returns
// the final path.
func (c *Cache) Write(recordKey string, data []byte) (string, error) {
	path, err := c.path(recordKey)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(c.baseDir, ".doc-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // write error wins
		return "", fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return "", fmt.Errorf("chmod cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("place cache file: %w", err)
	}
	return path, nil
}

// Read returns the cached document bytes.
func (c *Cache) Read(recordKey string) ([]byte, error) {
	path, err := c.path(recordKey)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cached document %s: %w", recordKey, err)
	}
	return data, nil
}

// Remove deletes the cached document. Missing files are not an error, so it
// is safe to call after an upload whether or not the file was ever written.
func (c *Cache) Remove(recordKey string) error {
	path, err := c.path(recordKey)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached document %s: %w", recordKey, err)
	}
	return nil
}

// path maps a record key to its cache file, rejecting keys that would escape
// the base directory.
func (c *Cache) path(recordKey string) (string, error) {
	if strings.TrimSpace(recordKey) == "" {
		return "", fmt.Errorf("record key is required")
	}
	full := filepath.Join(c.baseDir, recordKey+".pdf")
	cleanBase := filepath.Clean(c.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("record key %q escapes the cache directory", recordKey)
	}
	return full, nil
}
