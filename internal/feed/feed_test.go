package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/chunk"
	"github.com/JakeFAU/retail-content-ingestor/internal/clock/system"
	"github.com/JakeFAU/retail-content-ingestor/internal/embedding/hash"
	"github.com/JakeFAU/retail-content-ingestor/internal/feed/graph"
	"github.com/JakeFAU/retail-content-ingestor/internal/hash/sha256"
	"github.com/JakeFAU/retail-content-ingestor/internal/index"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	"github.com/JakeFAU/retail-content-ingestor/internal/vectorstore/memory"
)

// fakeLister serves pages keyed by "<pageID>|<cursor>".
type fakeLister struct {
	mu       sync.Mutex
	pages    map[string]graph.Page
	errs     map[string]error
	requests []string
}

func (f *fakeLister) Posts(_ context.Context, pageID, _ string, next string) (graph.Page, error) {
	key := pageID + "|" + next
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, key)
	if err := f.errs[key]; err != nil {
		return graph.Page{}, err
	}
	return f.pages[key], nil
}

// flakyIndexer fails documents whose URL contains failOn.
type flakyIndexer struct {
	inner  DocumentIndexer
	failOn string
}

func (f flakyIndexer) Index(ctx context.Context, doc ingest.Document) (index.Result, error) {
	if f.failOn != "" && strings.Contains(doc.URL, f.failOn) {
		return index.Result{}, errors.New("upsert: connection reset")
	}
	return f.inner.Index(ctx, doc)
}

func newIndexer(t *testing.T) (*index.Indexer, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.EnsureCollection(context.Background(), 16))
	return index.New(store, hash.New(16), chunk.New(chunk.DefaultConfig()), sha256.New(), system.New(), zap.NewNop(), index.Config{}), store
}

func twoPageFeed() *fakeLister {
	return &fakeLister{
		pages: map[string]graph.Page{
			"123|": {
				Posts: []graph.Post{
					{ID: "123_1", Message: "Grand opening Saturday\nFree samples all day", CreatedTime: "2024-05-01T12:00:00+0000", PermalinkURL: "https://www.facebook.com/shop/posts/1"},
					{ID: "123_2", Message: "   "},
				},
				Next: "cursor-2",
			},
			"123|cursor-2": {
				Posts: []graph.Post{
					{ID: "123_1", Message: "duplicate across pages"},
					{ID: "123_3", Message: "Holiday hours posted", CreatedTime: "not a date"},
				},
			},
		},
	}
}

func TestIngestPageFollowsCursorAndSkipsEmpty(t *testing.T) {
	t.Parallel()

	indexer, store := newIndexer(t)
	lister := twoPageFeed()
	pipeline := New(Config{}, lister, indexer, zap.NewNop())
	target := Target{Name: "shop", PageID: "123", AccessToken: "token"}

	stats, err := pipeline.IngestPage(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, []string{"123|", "123|cursor-2"}, lister.requests)
	require.Equal(t, 2, stats.Requests)
	require.Equal(t, 3, stats.Posts)
	require.Equal(t, 1, stats.Empty)
	require.Equal(t, 2, stats.Added)
	require.Zero(t, stats.Failed)

	first := store.Document("feed:shop", "https://www.facebook.com/shop/posts/1")
	require.Len(t, first, 1)
	payload := first[0].Payload
	require.Equal(t, "Grand opening Saturday", payload[ingest.FieldTitle])
	require.Equal(t, "123_1", payload[ingest.FieldPostID])
	require.Equal(t, "123", payload[ingest.FieldPageID])
	require.Equal(t, "2024-05-01T12:00:00Z", payload[ingest.FieldPublishedAt])
	require.Equal(t, "post", payload[ingest.FieldContentKind])

	synthetic := store.Document("feed:shop", "https://www.facebook.com/123_3")
	require.Len(t, synthetic, 1)
	require.Equal(t, "not a date", synthetic[0].Payload[ingest.FieldPublishedAt])
	require.Empty(t, store.Document("feed:shop", "https://www.facebook.com/123_2"))
}

func TestIngestPageIsIdempotent(t *testing.T) {
	t.Parallel()

	indexer, store := newIndexer(t)
	pipeline := New(Config{}, twoPageFeed(), indexer, zap.NewNop())
	target := Target{Name: "shop", PageID: "123"}

	_, err := pipeline.IngestPage(context.Background(), target)
	require.NoError(t, err)
	before := store.Points()

	stats, err := pipeline.IngestPage(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Unchanged)
	require.Zero(t, stats.Added+stats.Replaced)
	require.Len(t, store.Points(), len(before))
}

func TestIngestPageHonorsMaxPosts(t *testing.T) {
	t.Parallel()

	indexer, _ := newIndexer(t)
	lister := twoPageFeed()
	pipeline := New(Config{}, lister, indexer, zap.NewNop())

	stats, err := pipeline.IngestPage(context.Background(), Target{Name: "shop", PageID: "123", MaxPosts: 2})
	require.NoError(t, err)
	require.Equal(t, 2, stats.Posts)
	require.Equal(t, []string{"123|"}, lister.requests, "the cursor is not followed once the cap is reached")
}

func TestIngestPageHonorsMaxPages(t *testing.T) {
	t.Parallel()

	indexer, _ := newIndexer(t)
	lister := twoPageFeed()
	pipeline := New(Config{}, lister, indexer, zap.NewNop())

	stats, err := pipeline.IngestPage(context.Background(), Target{Name: "shop", PageID: "123", MaxPages: 1})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Requests)
	require.Equal(t, 2, stats.Posts)
}

func TestIngestPagePostFailureDoesNotAbortPage(t *testing.T) {
	t.Parallel()

	indexer, store := newIndexer(t)
	pipeline := New(Config{}, twoPageFeed(), flakyIndexer{inner: indexer, failOn: "posts/1"}, zap.NewNop())

	stats, err := pipeline.IngestPage(context.Background(), Target{Name: "shop", PageID: "123"})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, stats.Added)
	require.Len(t, store.Document("feed:shop", "https://www.facebook.com/123_3"), 1)
}

func TestRunIsolatesPageFailures(t *testing.T) {
	t.Parallel()

	indexer, store := newIndexer(t)
	lister := twoPageFeed()
	lister.errs = map[string]error{"999|": errors.New("graph api: status 400: Invalid OAuth access token.")}
	pipeline := New(Config{MaxParallelPages: 1}, lister, indexer, zap.NewNop())

	stats, err := pipeline.Run(context.Background(), []Target{
		{Name: "broken", PageID: "999"},
		{Name: "shop", PageID: "123"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "page broken")
	require.NotContains(t, err.Error(), "page shop")
	require.Len(t, stats, 2)
	require.Equal(t, 2, stats[1].Added)
	require.NotEmpty(t, store.Points())
}

func TestRunStopsPageOnMidPaginationError(t *testing.T) {
	t.Parallel()

	indexer, store := newIndexer(t)
	lister := twoPageFeed()
	lister.errs = map[string]error{"123|cursor-2": errors.New("graph api: status 503")}
	pipeline := New(Config{}, lister, indexer, zap.NewNop())

	stats, err := pipeline.Run(context.Background(), []Target{{Name: "shop", PageID: "123"}})
	require.Error(t, err)
	require.Equal(t, 1, stats[0].Added, "posts from earlier pages are kept")
	require.Len(t, store.Document("feed:shop", "https://www.facebook.com/shop/posts/1"), 1)
}

func TestTitle(t *testing.T) {
	t.Parallel()

	require.Equal(t, "First line", Title("\n  First line  \nsecond"))
	require.Empty(t, Title(" \n\t"))

	long := strings.Repeat("é", 100)
	require.Equal(t, strings.Repeat("é", 80), Title(long))
}

func TestPostURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.facebook.com/1_2", PostURL(graph.Post{ID: "1_2"}))
	require.Equal(t, "https://www.facebook.com/shop/posts/9",
		PostURL(graph.Post{ID: "1_9", PermalinkURL: " HTTPS://WWW.FACEBOOK.COM/shop/posts/9 "}))
}

func TestTargetSource(t *testing.T) {
	t.Parallel()

	require.Equal(t, "feed:shop", Target{Name: "shop"}.Source())
}
