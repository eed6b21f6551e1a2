package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/retail-content-ingestor/internal/frontier"
	"github.com/JakeFAU/retail-content-ingestor/internal/index"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	"github.com/JakeFAU/retail-content-ingestor/internal/metrics"
	"github.com/JakeFAU/retail-content-ingestor/internal/progress"
)

// ErrNoSeeds is returned when none of a site's seeds pass its allow rules.
var ErrNoSeeds = errors.New("no seed passes the site rules")

const defaultSiteConcurrency = 4

// DocumentIndexer syncs one extracted document into the vector store.
type DocumentIndexer interface {
	Index(ctx context.Context, doc ingest.Document) (index.Result, error)
}

// Config tunes the pipeline across sites.
type Config struct {
	// MaxParallelSites bounds how many sites crawl at once. Zero or negative
	// crawls every site concurrently.
	MaxParallelSites int
	// PolitenessJitter is the upper bound of the random delay before each fetch.
	PolitenessJitter time.Duration
	// ArchivePrefix is the object prefix used when an archive is configured.
	ArchivePrefix string
}

// Dependencies are the collaborators of a Pipeline. Archive, Limiter and
// Progress are optional.
type Dependencies struct {
	Fetcher  ingest.Fetcher
	Indexer  DocumentIndexer
	Limiter  HostLimiter
	Archive  ingest.BlobStore
	Hasher   ingest.Hasher
	Progress progress.Emitter
	Logger   *zap.Logger
}

// Pipeline crawls configured sites and indexes what it finds.
type Pipeline struct {
	fetcher    ingest.Fetcher
	indexer    DocumentIndexer
	archive    *archiver
	politeness *politeness
	progress   progress.Emitter
	logger     *zap.Logger
	cfg        Config
}

// New wires a Pipeline.
func New(cfg Config, deps Dependencies) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var arch *archiver
	if deps.Archive != nil {
		arch = newArchiver(deps.Archive, deps.Hasher, cfg.ArchivePrefix)
	}
	return &Pipeline{
		fetcher:    deps.Fetcher,
		indexer:    deps.Indexer,
		archive:    arch,
		politeness: newPoliteness(cfg.PolitenessJitter, deps.Limiter),
		progress:   deps.Progress,
		logger:     logger.Named("crawler"),
		cfg:        cfg,
	}
}

// Run crawls every site, at most MaxParallelSites at a time. A failed site
// never stops the others; the returned error joins the failures of every site
// once all of them finished.
func (p *Pipeline) Run(ctx context.Context, sites []Site) ([]SiteStats, error) {
	var (
		mu     sync.Mutex
		stats  = make([]SiteStats, len(sites))
		errs   []error
		group  errgroup.Group
		parLim = p.cfg.MaxParallelSites
	)
	if parLim > 0 {
		group.SetLimit(parLim)
	}
	for i, site := range sites {
		group.Go(func() error {
			result, err := p.crawlSiteSafe(ctx, site)
			mu.Lock()
			defer mu.Unlock()
			stats[i] = result
			if err != nil {
				p.logger.Error("site crawl failed", zap.String("source", site.Name), zap.Error(err))
				errs = append(errs, fmt.Errorf("site %s: %w", site.Name, err))
			}
			return nil
		})
	}
	_ = group.Wait()
	return stats, errors.Join(errs...)
}

func (p *Pipeline) crawlSiteSafe(ctx context.Context, site Site) (stats SiteStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl panicked: %v", r)
		}
	}()
	return p.CrawlSite(ctx, site)
}

// CrawlSite traverses one site breadth-first. Seeds that pass the allow rules
// enter the frontier at depth 0; the site is drained once the frontier is
// empty and no fetch is in flight. Page failures are counted, not returned.
func (p *Pipeline) CrawlSite(ctx context.Context, site Site) (SiteStats, error) {
	start := time.Now()
	counters := &siteCounters{stats: SiteStats{Site: site.Name}}
	logger := p.logger.With(zap.String("source", site.Name))

	rules := NewRules(site)
	front := frontier.New(site.MaxPages)
	for _, seed := range site.Seeds {
		if normalized, ok := rules.Allow(seed); ok && front.Add(normalized, 0) {
			counters.update(func(s *SiteStats) { s.Discovered++ })
		}
	}
	if front.Len() == 0 {
		return counters.snapshot(time.Since(start)), ErrNoSeeds
	}
	counters.setState(StateSeeded)
	logger.Info("site seeded", zap.Int("seeds", front.Len()))

	concurrency := site.Concurrency
	if concurrency <= 0 {
		concurrency = defaultSiteConcurrency
	}
	sem := make(chan struct{}, concurrency)
	done := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	inflight := 0

	counters.setState(StateTraversing)
dispatch:
	for {
		if ctx.Err() != nil {
			break
		}
		if item, ok := front.Next(); ok {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break dispatch
			}
			inflight++
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					<-sem
					done <- struct{}{}
				}()
				p.visit(ctx, site, rules, front, item, counters)
			}()
			continue
		}
		if inflight == 0 {
			break
		}
		select {
		case <-done:
			inflight--
		case <-ctx.Done():
			break dispatch
		}
	}

	// Drain completions so workers never block on done.
	go func() {
		wg.Wait()
		close(done)
	}()
	for range done {
	}

	if err := ctx.Err(); err != nil {
		counters.setState(StateCanceled)
		stats := counters.snapshot(time.Since(start))
		logger.Warn("site crawl canceled", zap.Error(err), zap.Int("fetched", stats.Fetched))
		return stats, fmt.Errorf("crawl site: %w", err)
	}
	counters.setState(StateDrained)
	stats := counters.snapshot(time.Since(start))
	logger.Info("site drained",
		zap.Int("fetched", stats.Fetched),
		zap.Int("added", stats.Added),
		zap.Int("replaced", stats.Replaced),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// visit fetches one frontier item, enqueues its links and indexes its text.
func (p *Pipeline) visit(
	ctx context.Context,
	site Site,
	rules *Rules,
	front *frontier.Frontier,
	item frontier.Item,
	counters *siteCounters,
) {
	logger := p.logger.With(
		zap.String("source", site.Name),
		zap.String("url", item.URL),
		zap.Int("depth", item.Depth),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("page processing panicked", zap.Any("panic", r))
			counters.update(func(s *SiteStats) { s.Failed++ })
		}
	}()

	if err := p.politeness.Wait(ctx, item.URL); err != nil {
		logger.Debug("politeness wait aborted", zap.Error(err))
		counters.update(func(s *SiteStats) { s.Failed++ })
		return
	}

	metrics.IncInflightFetches()
	result, err := p.fetcher.Fetch(ctx, ingest.FetchRequest{
		URL:       item.URL,
		UserAgent: site.UserAgent,
		Timeout:   site.Timeout,
	})
	metrics.DecInflightFetches()
	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		metrics.ObservePage(site.Name, "error", 0)
		counters.update(func(s *SiteStats) { s.Failed++ })
		progress.EmitFor(ctx, p.progress, time.Now(), progress.Event{
			Stage:  progress.StageFailure,
			Source: site.Name,
			URL:    item.URL,
			Note:   err.Error(),
		})
		return
	}
	counters.update(func(s *SiteStats) { s.Fetched++ })

	content := result.Content
	switch result.Status {
	case ingest.FetchSkipped:
		logger.Debug("fetch skipped", zap.String("reason", result.Reason))
		metrics.ObservePage(site.Name, "skipped", 0)
		counters.update(func(s *SiteStats) { s.Skipped++ })
		return
	case ingest.FetchEmpty:
		metrics.ObservePage(site.Name, "empty", len(content.Body))
		counters.update(func(s *SiteStats) { s.Empty++ })
		p.enqueueLinks(site, rules, front, item, content, counters)
		return
	}
	metrics.ObservePage(site.Name, "content", len(content.Body))
	p.enqueueLinks(site, rules, front, item, content, counters)

	res, err := p.indexer.Index(ctx, ingest.Document{
		Source: site.Name,
		URL:    item.URL,
		Title:  content.Title,
		Text:   content.Text,
		Kind:   content.Kind,
	})
	if err != nil {
		logger.Warn("index failed", zap.Error(err))
		counters.update(func(s *SiteStats) { s.Failed++ })
		return
	}
	counters.record(res.Outcome)

	if p.archive != nil && (res.Outcome == index.OutcomeAdded || res.Outcome == index.OutcomeReplaced) {
		if path, err := p.archive.Store(ctx, site.Name, item.URL, res.ContentHash, content); err != nil {
			logger.Warn("archive failed", zap.Error(err))
		} else {
			logger.Debug("archived content", zap.String("object", path))
		}
	}
}

func (p *Pipeline) enqueueLinks(
	site Site,
	rules *Rules,
	front *frontier.Frontier,
	item frontier.Item,
	content ingest.FetchedContent,
	counters *siteCounters,
) {
	if content.Kind != ingest.KindHTML || item.Depth >= site.MaxDepth {
		return
	}
	added := 0
	for _, link := range content.Links {
		normalized, ok := rules.Allow(link)
		if !ok {
			continue
		}
		if front.Add(normalized, item.Depth+1) {
			added++
		}
	}
	if added > 0 {
		counters.update(func(s *SiteStats) { s.Discovered += added })
	}
}
