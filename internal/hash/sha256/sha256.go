// Package sha256 computes content fingerprints with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

var _ ingest.Hasher = (*Hasher)(nil)

// Hasher implements ingest.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. Callers normalize text first
// so formatting-only edits keep the fingerprint.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
