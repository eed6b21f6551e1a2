// Package feed ingests posts from configured social pages into the vector
// store with the same change detection as the web crawl.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/retail-content-ingestor/internal/feed/graph"
	"github.com/JakeFAU/retail-content-ingestor/internal/index"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	"github.com/JakeFAU/retail-content-ingestor/internal/metrics"
)

const (
	// SourcePrefix namespaces feed documents away from crawl sources.
	SourcePrefix = "feed:"

	maxTitleRunes       = 80
	defaultParallelism  = 2
	syntheticPostURLFmt = "https://www.facebook.com/%s"
)

// Target is one configured feed page.
type Target struct {
	Name        string
	PageID      string
	AccessToken string
	// MaxPosts caps the posts considered per run. Zero means no cap.
	MaxPosts int
	// MaxPages caps the API pages requested per run. Zero means no cap.
	MaxPages int
}

// Source returns the document source tag for the target.
func (t Target) Source() string {
	return SourcePrefix + t.Name
}

// PostLister returns one page of posts; an empty next requests the first page.
type PostLister interface {
	Posts(ctx context.Context, pageID, accessToken, next string) (graph.Page, error)
}

// DocumentIndexer syncs one post into the vector store.
type DocumentIndexer interface {
	Index(ctx context.Context, doc ingest.Document) (index.Result, error)
}

// PageStats summarizes one page ingestion.
type PageStats struct {
	Page      string
	Requests  int
	Posts     int
	Added     int
	Replaced  int
	Unchanged int
	// Empty counts posts without a message body.
	Empty    int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Config tunes the pipeline.
type Config struct {
	// MaxParallelPages bounds how many pages ingest at once.
	MaxParallelPages int
}

// Pipeline ingests feed pages.
type Pipeline struct {
	lister  PostLister
	indexer DocumentIndexer
	logger  *zap.Logger
	cfg     Config
}

// New wires a Pipeline.
func New(cfg Config, lister PostLister, indexer DocumentIndexer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallelPages <= 0 {
		cfg.MaxParallelPages = defaultParallelism
	}
	return &Pipeline{
		lister:  lister,
		indexer: indexer,
		logger:  logger.Named("feed"),
		cfg:     cfg,
	}
}

// Run ingests every target. A failed page does not stop the others; the
// returned error joins the failures once all pages finished.
func (p *Pipeline) Run(ctx context.Context, targets []Target) ([]PageStats, error) {
	var (
		mu    sync.Mutex
		stats = make([]PageStats, len(targets))
		errs  []error
		group errgroup.Group
	)
	group.SetLimit(p.cfg.MaxParallelPages)
	for i, target := range targets {
		group.Go(func() error {
			result, err := p.ingestPageSafe(ctx, target)
			mu.Lock()
			defer mu.Unlock()
			stats[i] = result
			if err != nil {
				p.logger.Error("feed page failed", zap.String("page", target.Name), zap.Error(err))
				errs = append(errs, fmt.Errorf("page %s: %w", target.Name, err))
			}
			return nil
		})
	}
	_ = group.Wait()
	return stats, errors.Join(errs...)
}

func (p *Pipeline) ingestPageSafe(ctx context.Context, target Target) (stats PageStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			stats.Page = target.Name
			err = fmt.Errorf("ingest panicked: %v", r)
		}
	}()
	return p.IngestPage(ctx, target)
}

// IngestPage follows the page cursor until MaxPosts or MaxPages is reached or
// the feed is exhausted. Post failures are counted and logged; a request
// failure ends the page with an error after the posts already seen were
// processed.
func (p *Pipeline) IngestPage(ctx context.Context, target Target) (PageStats, error) {
	start := time.Now()
	stats := PageStats{Page: target.Name}
	logger := p.logger.With(zap.String("page", target.Name), zap.String("page_id", target.PageID))
	seen := make(map[string]struct{})

	next := ""
	for {
		if target.MaxPages > 0 && stats.Requests >= target.MaxPages {
			break
		}
		page, err := p.lister.Posts(ctx, target.PageID, target.AccessToken, next)
		stats.Requests++
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		for _, post := range page.Posts {
			if target.MaxPosts > 0 && stats.Posts >= target.MaxPosts {
				break
			}
			if _, dup := seen[post.ID]; dup {
				continue
			}
			seen[post.ID] = struct{}{}
			stats.Posts++
			p.ingestPost(ctx, target, post, &stats, logger)
		}
		if page.Next == "" || page.Next == next || (target.MaxPosts > 0 && stats.Posts >= target.MaxPosts) {
			break
		}
		next = page.Next
	}

	stats.Duration = time.Since(start)
	logger.Info("feed page ingested",
		zap.Int("posts", stats.Posts),
		zap.Int("added", stats.Added),
		zap.Int("replaced", stats.Replaced),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (p *Pipeline) ingestPost(ctx context.Context, target Target, post graph.Post, stats *PageStats, logger *zap.Logger) {
	logger = logger.With(zap.String("post_id", post.ID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("post processing panicked", zap.Any("panic", r))
			stats.Failed++
			metrics.ObserveFeedPost(target.Name, "error")
		}
	}()

	if strings.TrimSpace(post.Message) == "" {
		stats.Empty++
		metrics.ObserveFeedPost(target.Name, "empty")
		return
	}
	res, err := p.indexer.Index(ctx, Document(target, post))
	if err != nil {
		logger.Warn("post index failed", zap.Error(err))
		stats.Failed++
		metrics.ObserveFeedPost(target.Name, "error")
		return
	}
	switch res.Outcome {
	case index.OutcomeAdded:
		stats.Added++
	case index.OutcomeReplaced:
		stats.Replaced++
	case index.OutcomeUnchanged:
		stats.Unchanged++
	case index.OutcomeSkipped:
		stats.Skipped++
	}
	metrics.ObserveFeedPost(target.Name, res.Outcome.String())
}

// Document maps a post onto the indexer's document shape.
func Document(target Target, post graph.Post) ingest.Document {
	extra := map[string]any{
		ingest.FieldPostID: post.ID,
		ingest.FieldPageID: target.PageID,
	}
	if published, ok := post.Published(); ok {
		extra[ingest.FieldPublishedAt] = published.Format(time.RFC3339)
	} else if post.CreatedTime != "" {
		extra[ingest.FieldPublishedAt] = post.CreatedTime
	}
	return ingest.Document{
		Source: target.Source(),
		URL:    PostURL(post),
		Title:  Title(post.Message),
		Text:   post.Message,
		Kind:   ingest.KindPost,
		Extra:  extra,
	}
}

// PostURL returns the permalink, or a synthetic URL derived from the post id.
func PostURL(post graph.Post) string {
	if link := strings.TrimSpace(post.PermalinkURL); link != "" {
		if normalized, err := ingest.NormalizeURL(link); err == nil {
			return normalized
		}
		return link
	}
	return fmt.Sprintf(syntheticPostURLFmt, post.ID)
}

// Title is the first non-blank line of message, cut to 80 runes.
func Title(message string) string {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) <= maxTitleRunes {
			return line
		}
		return strings.TrimSpace(string([]rune(line)[:maxTitleRunes]))
	}
	return ""
}
