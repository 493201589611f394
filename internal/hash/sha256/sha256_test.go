// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import (
	"os"
	"path/filepath"
	"testing"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestKeyNormalizesFields checks the key ignores case and surrounding space.
func TestKeyNormalizesFields(t *testing.T) {
	t.Parallel()

	a := Key("D-1234/2020", "C.A. 99/2020", "15-01-2020")
	b := Key("  d-1234/2020 ", "c.a. 99/2020", "15-01-2020")
	if a != b {
		t.Fatalf("expected normalized keys to match, got %s vs %s", a, b)
	}
	c := Key("D-1234/2020", "C.A. 100/2020", "15-01-2020")
	if a == c {
		t.Fatal("expected different fields to yield different keys")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

// TestFileMatchesHash confirms streaming a file equals hashing its bytes.
func TestFileMatchesHash(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	want, _ := New().Hash([]byte("hello world"))
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
