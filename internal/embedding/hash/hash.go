// Package hash implements a deterministic, offline ingest.Embedder using
// signed feature hashing over lowercase words. It needs no network access and
// is meant for local development and tests, not retrieval quality.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

var _ ingest.Embedder = (*Embedder)(nil)

// Embedder maps text to a unit vector of fixed size.
type Embedder struct {
	dims int
}

// New creates an Embedder producing dims-sized vectors; dims below 1 becomes 256.
func New(dims int) *Embedder {
	if dims < 1 {
		dims = 256
	}
	return &Embedder{dims: dims}
}

// Embed hashes each text independently.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dims))
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
