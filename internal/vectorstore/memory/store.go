// Package memory provides an in-process ingest.VectorStore for local runs and
// tests. Contents do not survive the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

// Store keeps points in a map keyed by id.
type Store struct {
	mu         sync.RWMutex
	vectorSize int
	indexes    map[string]ingest.FieldSchema
	points     map[string]ingest.Point
}

var _ ingest.VectorStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		indexes: make(map[string]ingest.FieldSchema),
		points:  make(map[string]ingest.Point),
	}
}

// EnsureCollection records the vector size. Repeated calls with the same size
// succeed.
func (s *Store) EnsureCollection(_ context.Context, vectorSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectorSize != 0 && s.vectorSize != vectorSize {
		return fmt.Errorf("collection exists with vector size %d, want %d", s.vectorSize, vectorSize)
	}
	s.vectorSize = vectorSize
	return nil
}

// EnsureIndex records the field schema.
func (s *Store) EnsureIndex(_ context.Context, field string, schema ingest.FieldSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[field] = schema
	return nil
}

// LookupFingerprint reads the fingerprint from a chunk of (source, url),
// choosing the lowest id so repeated lookups agree.
func (s *Store) LookupFingerprint(_ context.Context, source, url string) (ingest.Fingerprint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  ingest.Point
		found bool
	)
	for _, p := range s.points {
		if !matches(p, source, url) {
			continue
		}
		if !found || p.ID < best.ID {
			best, found = p, true
		}
	}
	if !found {
		return ingest.Fingerprint{}, false, nil
	}
	fp := ingest.Fingerprint{
		ContentHash: stringField(best.Payload, ingest.FieldContentHash),
		ContentLen:  int(intField(best.Payload, ingest.FieldContentLen)),
	}
	if ts, err := time.Parse(time.RFC3339Nano, stringField(best.Payload, ingest.FieldCrawledAt)); err == nil {
		fp.CrawledAt = ts
	}
	return fp, true, nil
}

// DeleteDocument removes every point of (source, url).
func (s *Store) DeleteDocument(_ context.Context, source, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if matches(p, source, url) {
			delete(s.points, id)
		}
	}
	return nil
}

// Upsert stores copies of points, replacing any with the same id.
func (s *Store) Upsert(_ context.Context, points []ingest.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if s.vectorSize != 0 && len(p.Vector) != s.vectorSize {
			return fmt.Errorf("point %s: vector size %d, collection expects %d", p.ID, len(p.Vector), s.vectorSize)
		}
	}
	for _, p := range points {
		s.points[p.ID] = clonePoint(p)
	}
	return nil
}

// TouchDocument refreshes the freshness fields of (source, url).
func (s *Store) TouchDocument(_ context.Context, source, url string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if !matches(p, source, url) {
			continue
		}
		p.Payload[ingest.FieldCrawledAt] = seenAt.UTC().Format(time.RFC3339Nano)
		p.Payload[ingest.FieldCrawledAtEpoch] = seenAt.UnixMilli()
		s.points[id] = p
	}
	return nil
}

// DeleteOlderThan removes points whose freshness epoch is below cutoffMillis.
func (s *Store) DeleteOlderThan(_ context.Context, cutoffMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if intField(p.Payload, ingest.FieldCrawledAtEpoch) < cutoffMillis {
			delete(s.points, id)
		}
	}
	return nil
}

// Points returns copies of all stored points ordered by id.
func (s *Store) Points() []ingest.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Point, 0, len(s.points))
	for _, p := range s.points {
		out = append(out, clonePoint(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Document returns the points of (source, url) ordered by chunk index.
func (s *Store) Document(source, url string) []ingest.Point {
	var out []ingest.Point
	for _, p := range s.Points() {
		if matches(p, source, url) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return intField(out[i].Payload, ingest.FieldChunkIndex) < intField(out[j].Payload, ingest.FieldChunkIndex)
	})
	return out
}

// Indexes returns the ensured payload indexes.
func (s *Store) Indexes() map[string]ingest.FieldSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ingest.FieldSchema, len(s.indexes))
	for k, v := range s.indexes {
		out[k] = v
	}
	return out
}

func matches(p ingest.Point, source, url string) bool {
	return stringField(p.Payload, ingest.FieldSource) == source && stringField(p.Payload, ingest.FieldURL) == url
}

func clonePoint(p ingest.Point) ingest.Point {
	payload := make(map[string]any, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = v
	}
	return ingest.Point{
		ID:      p.ID,
		Vector:  append([]float32(nil), p.Vector...),
		Payload: payload,
	}
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// intField reads numeric payload values regardless of the concrete type the
// writer used. Missing values read as zero.
func intField(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
