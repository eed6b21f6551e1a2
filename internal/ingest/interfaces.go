package ingest

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves and extracts a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// VectorStore is the subset of vector database operations the pipeline needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, vectorSize int) error
	EnsureIndex(ctx context.Context, field string, schema FieldSchema) error
	// LookupFingerprint returns the stored fingerprint for (source, url). The
	// boolean is false when no document exists.
	LookupFingerprint(ctx context.Context, source, url string) (Fingerprint, bool, error)
	DeleteDocument(ctx context.Context, source, url string) error
	Upsert(ctx context.Context, points []Point) error
	TouchDocument(ctx context.Context, source, url string, seenAt time.Time) error
	// DeleteOlderThan removes every point whose freshness epoch is strictly
	// below cutoffMillis.
	DeleteOlderThan(ctx context.Context, cutoffMillis int64) error
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
