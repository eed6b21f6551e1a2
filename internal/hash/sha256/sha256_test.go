// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import (
	"testing"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
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

// TestHashOfNormalizedText ensures formatting-only edits keep the digest once
// text is normalized.
func TestHashOfNormalizedText(t *testing.T) {
	t.Parallel()

	h := New()
	a, _ := h.Hash([]byte(ingest.NormalizeText("Store hours:\n  Mon-Fri   9am-5pm ")))
	b, _ := h.Hash([]byte(ingest.NormalizeText("Store hours: Mon-Fri 9am-5pm")))
	if a != b {
		t.Fatalf("expected whitespace-insensitive fingerprint, got %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(a))
	}
	if c, _ := h.Hash([]byte(ingest.NormalizeText("Store hours: Mon-Sat 9am-5pm"))); c == a {
		t.Fatal("expected different text to change the fingerprint")
	}
}
