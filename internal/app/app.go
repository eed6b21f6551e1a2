// Package app wires configuration into long-lived services and owns their
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/api"
	"github.com/JakeFAU/retail-content-ingestor/internal/chunk"
	"github.com/JakeFAU/retail-content-ingestor/internal/clock/system"
	"github.com/JakeFAU/retail-content-ingestor/internal/config"
	"github.com/JakeFAU/retail-content-ingestor/internal/crawler"
	"github.com/JakeFAU/retail-content-ingestor/internal/embedding/hash"
	"github.com/JakeFAU/retail-content-ingestor/internal/embedding/openai"
	"github.com/JakeFAU/retail-content-ingestor/internal/extract"
	"github.com/JakeFAU/retail-content-ingestor/internal/feed"
	"github.com/JakeFAU/retail-content-ingestor/internal/feed/graph"
	colly "github.com/JakeFAU/retail-content-ingestor/internal/fetcher/colly"
	"github.com/JakeFAU/retail-content-ingestor/internal/hash/sha256"
	"github.com/JakeFAU/retail-content-ingestor/internal/id/uuid"
	"github.com/JakeFAU/retail-content-ingestor/internal/index"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
	lockredis "github.com/JakeFAU/retail-content-ingestor/internal/lock/redis"
	"github.com/JakeFAU/retail-content-ingestor/internal/orchestrator"
	"github.com/JakeFAU/retail-content-ingestor/internal/policy/ratelimit"
	"github.com/JakeFAU/retail-content-ingestor/internal/policy/retry"
	"github.com/JakeFAU/retail-content-ingestor/internal/progress"
	"github.com/JakeFAU/retail-content-ingestor/internal/progress/sinks"
	"github.com/JakeFAU/retail-content-ingestor/internal/publisher/pubsub"
	"github.com/JakeFAU/retail-content-ingestor/internal/retention"
	"github.com/JakeFAU/retail-content-ingestor/internal/schedule"
	"github.com/JakeFAU/retail-content-ingestor/internal/storage/gcs"
	"github.com/JakeFAU/retail-content-ingestor/internal/storage/local"
	"github.com/JakeFAU/retail-content-ingestor/internal/storage/memory"
	"github.com/JakeFAU/retail-content-ingestor/internal/storage/postgres"
	"github.com/JakeFAU/retail-content-ingestor/internal/store"
	"github.com/JakeFAU/retail-content-ingestor/internal/telemetry"
	"github.com/JakeFAU/retail-content-ingestor/internal/vectorstore/qdrant"
)

// Option overrides a dependency New would otherwise build from configuration.
type Option func(*overrides)

type overrides struct {
	store    ingest.VectorStore
	fetcher  ingest.Fetcher
	lister   feed.PostLister
	embedder ingest.Embedder
}

// WithVectorStore replaces the Qdrant client.
func WithVectorStore(s ingest.VectorStore) Option {
	return func(o *overrides) { o.store = s }
}

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f ingest.Fetcher) Option {
	return func(o *overrides) { o.fetcher = f }
}

// WithPostLister replaces the Graph API client.
func WithPostLister(l feed.PostLister) Option {
	return func(o *overrides) { o.lister = l }
}

// WithEmbedder replaces the configured embedder.
func WithEmbedder(e ingest.Embedder) Option {
	return func(o *overrides) { o.embedder = e }
}

const progressCloseTimeout = 15 * time.Second

type closer struct {
	name string
	fn   func() error
}

// App holds the shared, long-lived services of one process.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *orchestrator.Orchestrator
	runs         store.RunRepository
	changes      store.ChangeRepository
	checks       map[string]api.CheckFunc
	closers      []closer
}

// New builds every service cfg asks for. It fails fast when an enabled
// dependency cannot be reached; services opened before the failure are
// closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		checks: map[string]api.CheckFunc{},
	}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		tp, tErr := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName,
			sdktrace.NewBatchSpanProcessor(telemetry.NewLogExporter(logger)))
		if tErr != nil {
			return nil, fmt.Errorf("init tracing: %w", tErr)
		}
		a.addCloser("tracer", func() error { return tp.Shutdown(context.Background()) })
	}
	transport := otelhttp.NewTransport(http.DefaultTransport)
	clock := system.New()
	hasher := sha256.New()

	deps := orchestrator.Dependencies{
		Clock:  clock,
		IDs:    uuid.New(),
		Logger: logger,
	}
	if err := a.openBookkeeping(ctx, &deps); err != nil {
		return nil, err
	}
	a.runs = deps.Runs
	hub := a.openProgress()
	if hub != nil {
		deps.Progress = hub
	}

	vs := o.store
	if vs == nil {
		qc, qErr := qdrant.New(qdrant.Config{
			BaseURL:    cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Distance:   cfg.Qdrant.Distance,
			Timeout:    cfg.Qdrant.Timeout,
			BatchSize:  cfg.Qdrant.BatchSize,
		}, qdrant.WithHTTPClient(&http.Client{Timeout: cfg.Qdrant.Timeout, Transport: transport}))
		if qErr != nil {
			return nil, fmt.Errorf("init qdrant: %w", qErr)
		}
		a.checks["qdrant"] = qc.Ready
		vs = qc
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		if embedder, err = newEmbedder(cfg.Embedding, transport); err != nil {
			return nil, err
		}
	}

	mode, err := extract.ParseMode(cfg.Indexing.ExtractionMode)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	indexer := index.New(vs, embedder, chunk.New(chunk.Config{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
	}), hasher, clock, logger.Named("index"), index.Config{MinContentChars: cfg.Indexing.MinContentChars},
		index.WithEmitter(deps.Progress))

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = colly.New(colly.Config{
			UserAgent:    cfg.HTTP.UserAgent,
			Timeout:      cfg.HTTP.Timeout,
			MaxHTMLBytes: cfg.HTTP.MaxHTMLBytes,
			MaxPDFBytes:  cfg.HTTP.MaxPDFBytes,
		}, extract.New(mode), clock)
	}
	archive, err := a.openArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	crawl := crawler.New(crawler.Config{
		MaxParallelSites: cfg.Crawl.MaxParallelSites,
		PolitenessJitter: cfg.Politeness.Jitter,
		ArchivePrefix:    cfg.Archive.Prefix,
	}, crawler.Dependencies{
		Fetcher:  fetcher,
		Indexer:  indexer,
		Limiter:  ratelimit.New(ratelimit.Config{PerHostRPS: cfg.Politeness.PerHostRPS, Burst: cfg.Politeness.Burst}),
		Archive:  archive,
		Hasher:   hasher,
		Progress: deps.Progress,
		Logger:   logger,
	})

	lister := o.lister
	if lister == nil {
		graphCfg := graph.Config{
			BaseURL:  cfg.Feed.BaseURL,
			Version:  cfg.Feed.Version,
			PageSize: cfg.Feed.PageSize,
			Timeout:  cfg.Feed.Timeout,
		}
		lister = graph.New(graphCfg,
			graph.WithHTTPClient(&http.Client{Timeout: cfg.Feed.Timeout, Transport: transport}),
			graph.WithRetryPolicy(retry.NewExponential(retry.Config{MaxAttempts: cfg.Feed.MaxRetries})),
		)
	}
	feeds := feed.New(feed.Config{MaxParallelPages: cfg.Feed.MaxParallelPages}, lister, indexer, logger)
	cleaner := retention.New(vs, clock, cfg.Retention.MaxAge, logger)

	deps.Store = vs
	deps.Embedder = embedder
	deps.Tasks = a.tasks(crawl, feeds, cleaner)
	a.orchestrator = orchestrator.New(orchestrator.Config{
		LockTTL:      cfg.Redis.LockTTL,
		SummaryTopic: cfg.PubSub.Topic,
	}, deps)

	ready = true
	logger.Info("application services initialized",
		zap.Int("sites", len(cfg.Crawl.Sites)),
		zap.Int("feed_pages", len(cfg.Feed.Pages)),
		zap.String("archive", cfg.Archive.Backend),
	)
	return a, nil
}

func newEmbedder(cfg config.EmbeddingConfig, transport http.RoundTripper) (ingest.Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingHash:
		return hash.New(cfg.Dimensions), nil
	default:
		e, err := openai.New(openai.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
			Transport:  transport,
		})
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		return e, nil
	}
}

func (a *App) openArchive(ctx context.Context, cfg config.ArchiveConfig) (ingest.BlobStore, error) {
	switch cfg.Backend {
	case config.ArchiveLocal:
		s, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return s, nil
	case config.ArchiveGCS:
		s, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.addCloser("gcs", s.Close)
		return s, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

// openBookkeeping connects the optional run lock, run history and summary
// publisher. Run history falls back to memory so the API can list runs of
// this process.
func (a *App) openBookkeeping(ctx context.Context, deps *orchestrator.Dependencies) error {
	if a.cfg.Redis.Addr != "" {
		lock, err := lockredis.Open(ctx, lockredis.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("init run lock: %w", err)
		}
		a.addCloser("redis", lock.Close)
		a.checks["redis"] = lock.Ping
		deps.Locker = lock
	}

	if a.cfg.Postgres.DSN != "" {
		runs, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      a.cfg.Postgres.DSN,
			Table:    a.cfg.Postgres.Table,
			MaxConns: a.cfg.Postgres.MaxConns,
			MinConns: a.cfg.Postgres.MinConns,
		})
		if err != nil {
			return fmt.Errorf("init run history: %w", err)
		}
		a.addCloser("postgres", func() error { runs.Close(); return nil })
		if err := runs.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("init run history: %w", err)
		}
		deps.Runs = runs
		if a.cfg.Progress.Enabled {
			changes, err := runs.Changes(a.cfg.Postgres.ChangesTable)
			if err != nil {
				return fmt.Errorf("init change log: %w", err)
			}
			if err := changes.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("init change log: %w", err)
			}
			a.changes = changes
		}
	} else {
		deps.Runs = memory.NewRunStore()
		if a.cfg.Progress.Enabled {
			a.changes = memory.NewChangeStore()
		}
	}

	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.Topic != "" {
		pub, err := pubsub.Open(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init run publisher: %w", err)
		}
		a.addCloser("pubsub", pub.Close)
		deps.Publisher = pub
	}
	return nil
}

// openProgress starts the per-document change log hub. It returns nil when
// progress tracking is disabled.
func (a *App) openProgress() *progress.Hub {
	if !a.cfg.Progress.Enabled || a.changes == nil {
		return nil
	}
	targets := []progress.Sink{sinks.NewStoreSink(a.changes)}
	if a.cfg.Progress.LogEvents {
		targets = append(targets, sinks.NewLogSink(a.logger))
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchSize,
		FlushInterval:  a.cfg.Progress.FlushInterval,
		Logger:         a.logger,
	}, targets...)
	a.addCloser("progress", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), progressCloseTimeout)
		defer cancel()
		return hub.Close(ctx)
	})
	return hub
}

func (a *App) tasks(crawl *crawler.Pipeline, feeds *feed.Pipeline, cleaner *retention.Cleaner) map[orchestrator.Task]orchestrator.TaskFunc {
	sites := a.cfg.CrawlSites()
	pages := a.cfg.FeedPages()
	return map[orchestrator.Task]orchestrator.TaskFunc{
		orchestrator.TaskFeed: func(ctx context.Context) error {
			_, err := feeds.Run(ctx, pages)
			return err
		},
		orchestrator.TaskCrawl: func(ctx context.Context) error {
			_, err := crawl.Run(ctx, sites)
			return err
		},
		orchestrator.TaskCleanup: cleaner.Run,
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Config returns the validated configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator returns the run orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Run executes one orchestrated run for period.
func (a *App) Run(ctx context.Context, period orchestrator.Period, trigger string) (orchestrator.Report, error) {
	return a.orchestrator.Run(ctx, period, trigger)
}

// Bootstrap creates the vector collection and its payload indexes.
func (a *App) Bootstrap(ctx context.Context) error {
	return a.orchestrator.Bootstrap(ctx)
}

// Runs returns the run history repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Changes returns the per-document change log, or nil when progress
// tracking is disabled.
func (a *App) Changes() store.ChangeRepository {
	return a.changes
}

// Server builds the HTTP trigger API.
func (a *App) Server() *api.Server {
	return api.NewServer(a.orchestrator, api.Options{
		AuthEnabled: a.cfg.Auth.Enabled,
		APIKey:      a.cfg.Auth.APIKey,
		Runs:        a.runs,
		Changes:     a.changes,
		Checks:      a.checks,
	}, a.logger)
}

// Scheduler builds the in-process cron scheduler.
func (a *App) Scheduler() (*schedule.Scheduler, error) {
	s, err := schedule.New(map[orchestrator.Period]string{
		orchestrator.PeriodHourly: a.cfg.Schedule.Hourly,
		orchestrator.PeriodDaily:  a.cfg.Schedule.Daily,
	}, func(ctx context.Context, period orchestrator.Period) error {
		_, err := a.orchestrator.Run(ctx, period, "schedule")
		return err
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	return s, nil
}

// Close shuts down every opened service in reverse order and flushes the
// logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
	_ = a.logger.Sync()
}
