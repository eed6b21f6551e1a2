// Package index applies the fingerprint gate and the delete-then-upsert
// replacement protocol for one document at a time.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/chunk"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	"github.com/JakeFAU/retail-content-ingestor/internal/metrics"
	"github.com/JakeFAU/retail-content-ingestor/internal/progress"
)

// Outcome describes what Index did with a document.
type Outcome int

// Indexing outcomes.
const (
	// OutcomeSkipped means the text was blank or below the minimum length.
	OutcomeSkipped Outcome = iota
	// OutcomeUnchanged means the fingerprint matched and only freshness was touched.
	OutcomeUnchanged
	// OutcomeAdded means no prior generation was found.
	OutcomeAdded
	// OutcomeReplaced means a prior generation with a different fingerprint was replaced.
	OutcomeReplaced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeAdded:
		return "added"
	case OutcomeReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Result reports the outcome for one document.
type Result struct {
	Outcome     Outcome
	ContentHash string
	Chunks      int
}

// Config tunes the indexer.
type Config struct {
	// MinContentChars skips documents whose normalized text is shorter. Zero
	// indexes any non-blank text.
	MinContentChars int
}

// Indexer keeps one (source, url) generation in the vector store.
type Indexer struct {
	store    ingest.VectorStore
	embedder ingest.Embedder
	chunker  *chunk.Chunker
	hasher   ingest.Hasher
	clock    ingest.Clock
	logger   *zap.Logger
	emitter  progress.Emitter
	cfg      Config
}

// Option customizes an Indexer.
type Option func(*Indexer)

// WithEmitter reports every outcome and failure to emitter for runs whose
// context carries a run id.
func WithEmitter(emitter progress.Emitter) Option {
	return func(ix *Indexer) { ix.emitter = emitter }
}

// New wires an Indexer.
func New(
	store ingest.VectorStore,
	embedder ingest.Embedder,
	chunker *chunk.Chunker,
	hasher ingest.Hasher,
	clock ingest.Clock,
	logger *zap.Logger,
	cfg Config,
	opts ...Option,
) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &Indexer{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

var errNoVectors = errors.New("embedder returned wrong number of vectors")

// Index fingerprints doc, skips unchanged content with a freshness touch and
// otherwise replaces the stored generation. Chunks are embedded before the old
// generation is deleted, so an embedding failure leaves it intact.
func (ix *Indexer) Index(ctx context.Context, doc ingest.Document) (Result, error) {
	res, err := ix.index(ctx, doc)
	evt := progress.Event{Source: doc.Source, URL: doc.URL}
	if err != nil {
		evt.Stage = progress.StageFailure
		evt.Note = err.Error()
	} else {
		evt.Stage = progress.StageDocument
		evt.Outcome = res.Outcome.String()
		evt.ContentHash = res.ContentHash
		evt.Chunks = res.Chunks
	}
	progress.EmitFor(ctx, ix.emitter, ix.clock.Now(), evt)
	return res, err
}

func (ix *Indexer) index(ctx context.Context, doc ingest.Document) (Result, error) {
	text := ingest.NormalizeText(doc.Text)
	if text == "" || utf8.RuneCountInString(text) < ix.cfg.MinContentChars {
		metrics.ObserveDocument(doc.Source, OutcomeSkipped.String(), 0)
		return Result{Outcome: OutcomeSkipped}, nil
	}

	contentHash, err := ix.hasher.Hash([]byte(text))
	if err != nil {
		return Result{}, fmt.Errorf("fingerprint %s: %w", doc.URL, err)
	}
	now := ix.clock.Now()
	logger := ix.logger.With(zap.String("source", doc.Source), zap.String("url", doc.URL))

	stored, found, err := ix.store.LookupFingerprint(ctx, doc.Source, doc.URL)
	if err != nil {
		// A failed lookup counts as absent.
		logger.Warn("fingerprint lookup failed; treating as new", zap.Error(err))
		found = false
	}
	if found && stored.ContentHash == contentHash {
		if err := ix.store.TouchDocument(ctx, doc.Source, doc.URL, now); err != nil {
			return Result{}, fmt.Errorf("touch %s: %w", doc.URL, err)
		}
		metrics.ObserveDocument(doc.Source, OutcomeUnchanged.String(), 0)
		logger.Debug("content unchanged")
		return Result{Outcome: OutcomeUnchanged, ContentHash: contentHash}, nil
	}

	chunks := ix.chunker.Chunks(doc.Source, doc.URL, text)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("embed %s: %w", doc.URL, err)
	}
	if len(vectors) != len(chunks) {
		return Result{}, fmt.Errorf("embed %s: %w: got %d for %d chunks", doc.URL, errNoVectors, len(vectors), len(chunks))
	}

	points := make([]ingest.Point, len(chunks))
	for i, c := range chunks {
		points[i] = ingest.Point{
			ID:      c.ID,
			Vector:  vectors[i],
			Payload: payload(doc, c, len(chunks), contentHash, len(text), now),
		}
	}

	if err := ix.store.DeleteDocument(ctx, doc.Source, doc.URL); err != nil {
		return Result{}, fmt.Errorf("delete prior generation %s: %w", doc.URL, err)
	}
	if err := ix.store.Upsert(ctx, points); err != nil {
		logger.Error("upsert failed after delete; document absent until next run", zap.Error(err))
		return Result{}, fmt.Errorf("upsert %s: %w", doc.URL, err)
	}

	outcome := OutcomeAdded
	if found {
		outcome = OutcomeReplaced
	}
	metrics.ObserveDocument(doc.Source, outcome.String(), len(points))
	logger.Info("document indexed",
		zap.String("outcome", outcome.String()),
		zap.Int("chunks", len(points)),
		zap.String("content_hash", contentHash),
	)
	return Result{Outcome: outcome, ContentHash: contentHash, Chunks: len(points)}, nil
}

func payload(doc ingest.Document, c ingest.Chunk, count int, contentHash string, contentLen int, now time.Time) map[string]any {
	p := make(map[string]any, 11+len(doc.Extra))
	for k, v := range doc.Extra {
		p[k] = v
	}
	p[ingest.FieldText] = c.Text
	p[ingest.FieldSource] = doc.Source
	p[ingest.FieldURL] = doc.URL
	p[ingest.FieldTitle] = doc.Title
	p[ingest.FieldChunkIndex] = c.Index
	p[ingest.FieldChunkCount] = count
	p[ingest.FieldContentHash] = contentHash
	p[ingest.FieldContentLen] = contentLen
	p[ingest.FieldContentKind] = string(doc.Kind)
	p[ingest.FieldCrawledAt] = now.UTC().Format(time.RFC3339Nano)
	p[ingest.FieldCrawledAtEpoch] = now.UnixMilli()
	return p
}
