// Package config loads and validates ingestor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/retail-content-ingestor/internal/crawler"
	"github.com/JakeFAU/retail-content-ingestor/internal/extract"
	"github.com/JakeFAU/retail-content-ingestor/internal/feed"
)

// Embedding providers.
const (
	EmbeddingOpenAI = "openai"
	EmbeddingHash   = "hash"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Indexing   IndexingConfig   `mapstructure:"indexing"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// QdrantConfig locates the vector collection.
type QdrantConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Distance   string        `mapstructure:"distance"`
	Timeout    time.Duration `mapstructure:"timeout"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ChunkingConfig bounds chunk sizes in estimated tokens.
type ChunkingConfig struct {
	MaxTokens     int `mapstructure:"max_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// IndexingConfig controls which documents are indexed.
type IndexingConfig struct {
	MinContentChars int    `mapstructure:"min_content_chars"`
	ExtractionMode  string `mapstructure:"extraction_mode"`
}

// HTTPConfig configures page fetches.
type HTTPConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxHTMLBytes int           `mapstructure:"max_html_bytes"`
	MaxPDFBytes  int           `mapstructure:"max_pdf_bytes"`
}

// CrawlConfig lists the crawl targets and their defaults.
type CrawlConfig struct {
	MaxParallelSites   int          `mapstructure:"max_parallel_sites"`
	DefaultMaxDepth    int          `mapstructure:"default_max_depth"`
	DefaultMaxPages    int          `mapstructure:"default_max_pages"`
	DefaultConcurrency int          `mapstructure:"default_concurrency"`
	Sites              []SiteConfig `mapstructure:"sites"`
}

// SiteConfig is one crawl target as written in the config file. Zero limits
// inherit the crawl defaults.
type SiteConfig struct {
	Name         string        `mapstructure:"name"`
	Seeds        []string      `mapstructure:"seeds"`
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
	Include      []string      `mapstructure:"include"`
	Exclude      []string      `mapstructure:"exclude"`
	MaxDepth     int           `mapstructure:"max_depth"`
	MaxPages     int           `mapstructure:"max_pages"`
	Concurrency  int           `mapstructure:"concurrency"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PolitenessConfig spaces requests to the same host.
type PolitenessConfig struct {
	Jitter     time.Duration `mapstructure:"jitter"`
	PerHostRPS float64       `mapstructure:"per_host_rps"`
	Burst      int           `mapstructure:"burst"`
}

// FeedConfig lists the social pages and the Graph API settings.
type FeedConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Version          string        `mapstructure:"version"`
	PageSize         int           `mapstructure:"page_size"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	MaxParallelPages int           `mapstructure:"max_parallel_pages"`
	AccessToken      string        `mapstructure:"access_token"`
	Pages            []PageConfig  `mapstructure:"pages"`
}

// PageConfig is one feed page. An empty access token falls back to
// feed.access_token.
type PageConfig struct {
	Name        string `mapstructure:"name"`
	PageID      string `mapstructure:"page_id"`
	AccessToken string `mapstructure:"access_token"`
	MaxPosts    int    `mapstructure:"max_posts"`
	MaxPages    int    `mapstructure:"max_pages"`
}

// RetentionConfig bounds how long unseen documents are kept.
type RetentionConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

// ArchiveConfig selects where raw fetched bodies are archived.
type ArchiveConfig struct {
	Backend  string `mapstructure:"backend"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

// RedisConfig enables the distributed run lock when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// PostgresConfig enables run history and the change log when DSN is set.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	ChangesTable string `mapstructure:"changes_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
}

// PubSubConfig enables run summaries when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the per-run change event stream.
type ProgressConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	LogEvents     bool          `mapstructure:"log_events"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// ScheduleConfig holds cron expressions for the in-process scheduler.
type ScheduleConfig struct {
	Hourly string `mapstructure:"hourly"`
	Daily  string `mapstructure:"daily"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("qdrant.url", "http://localhost:6333")
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.collection", "retail_content")
	v.SetDefault("qdrant.distance", "Cosine")
	v.SetDefault("qdrant.timeout", "30s")
	v.SetDefault("qdrant.batch_size", 64)
	v.SetDefault("embedding.provider", EmbeddingOpenAI)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.batch_size", 96)
	v.SetDefault("embedding.timeout", "60s")
	v.SetDefault("chunking.max_tokens", 400)
	v.SetDefault("chunking.overlap_tokens", 40)
	v.SetDefault("indexing.min_content_chars", 0)
	v.SetDefault("indexing.extraction_mode", string(extract.ModeDOM))
	v.SetDefault("http.user_agent", "retail-content-ingestor/1.0")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_html_bytes", 5<<20)
	v.SetDefault("http.max_pdf_bytes", 20<<20)
	v.SetDefault("crawl.max_parallel_sites", 2)
	v.SetDefault("crawl.default_max_depth", 2)
	v.SetDefault("crawl.default_max_pages", 200)
	v.SetDefault("crawl.default_concurrency", 4)
	v.SetDefault("politeness.jitter", "500ms")
	v.SetDefault("politeness.per_host_rps", 2.0)
	v.SetDefault("politeness.burst", 1)
	v.SetDefault("feed.base_url", "https://graph.facebook.com")
	v.SetDefault("feed.version", "v19.0")
	v.SetDefault("feed.page_size", 25)
	v.SetDefault("feed.timeout", "20s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.max_parallel_pages", 2)
	v.SetDefault("feed.access_token", "")
	v.SetDefault("retention.max_age", "720h")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.dir", "data/archive")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "2h")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "ingest_runs")
	v.SetDefault("postgres.changes_table", "ingest_changes")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 2048)
	v.SetDefault("progress.batch_size", 500)
	v.SetDefault("progress.flush_interval", "1s")
	v.SetDefault("schedule.hourly", "5 * * * *")
	v.SetDefault("schedule.daily", "30 3 * * *")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "retail-content-ingestor")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if strings.TrimSpace(c.Qdrant.URL) == "" {
		errs = append(errs, errors.New("qdrant.url is required"))
	}
	if strings.TrimSpace(c.Qdrant.Collection) == "" {
		errs = append(errs, errors.New("qdrant.collection is required"))
	}
	switch c.Embedding.Provider {
	case EmbeddingOpenAI:
		if c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("embedding.api_key is required for the openai provider"))
		}
	case EmbeddingHash:
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q must be openai or hash", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, errors.New("embedding.dimensions must be >= 0"))
	}
	if c.Chunking.MaxTokens <= 0 {
		errs = append(errs, errors.New("chunking.max_tokens must be > 0"))
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		errs = append(errs, errors.New("chunking.overlap_tokens must be in [0, max_tokens)"))
	}
	if c.Indexing.MinContentChars < 0 {
		errs = append(errs, errors.New("indexing.min_content_chars must be >= 0"))
	}
	if _, err := extract.ParseMode(c.Indexing.ExtractionMode); err != nil {
		errs = append(errs, fmt.Errorf("indexing.extraction_mode: %w", err))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.Crawl.MaxParallelSites < 0 {
		errs = append(errs, errors.New("crawl.max_parallel_sites must be >= 0"))
	}
	if c.Politeness.Jitter < 0 {
		errs = append(errs, errors.New("politeness.jitter must be >= 0"))
	}
	if c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.max_age must be > 0"))
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			errs = append(errs, errors.New("archive.dir is required for the local backend"))
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q must be none, local, gcs or memory", c.Archive.Backend))
	}
	if c.Progress.Enabled && (c.Progress.BufferSize < 0 || c.Progress.BatchSize < 0 || c.Progress.FlushInterval < 0) {
		errs = append(errs, errors.New("progress buffer_size, batch_size and flush_interval must be >= 0"))
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl must be > 0"))
	}
	errs = append(errs, c.validateSites()...)
	errs = append(errs, c.validatePages()...)
	return errors.Join(errs...)
}

func (c Config) validateSites() []error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Crawl.Sites))
	for i, site := range c.Crawl.Sites {
		where := fmt.Sprintf("crawl.sites[%d]", i)
		if strings.TrimSpace(site.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", where))
		} else {
			if _, dup := seen[site.Name]; dup {
				errs = append(errs, fmt.Errorf("%s.name %q is not unique", where, site.Name))
			}
			seen[site.Name] = struct{}{}
			where = fmt.Sprintf("crawl.sites[%s]", site.Name)
		}
		if strings.HasPrefix(site.Name, feed.SourcePrefix) {
			errs = append(errs, fmt.Errorf("%s.name must not start with %q", where, feed.SourcePrefix))
		}
		if len(site.Seeds) == 0 {
			errs = append(errs, fmt.Errorf("%s.seeds must not be empty", where))
		}
		if site.MaxDepth < 0 || site.MaxPages < 0 || site.Concurrency < 0 {
			errs = append(errs, fmt.Errorf("%s limits must be >= 0", where))
		}
		for _, pattern := range append(append([]string(nil), site.Include...), site.Exclude...) {
			if _, err := compilePattern(pattern); err != nil {
				errs = append(errs, fmt.Errorf("%s pattern %q: %w", where, pattern, err))
			}
		}
	}
	return errs
}

func (c Config) validatePages() []error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Feed.Pages))
	for i, page := range c.Feed.Pages {
		where := fmt.Sprintf("feed.pages[%d]", i)
		if strings.TrimSpace(page.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", where))
		} else {
			if _, dup := seen[page.Name]; dup {
				errs = append(errs, fmt.Errorf("%s.name %q is not unique", where, page.Name))
			}
			seen[page.Name] = struct{}{}
		}
		if strings.TrimSpace(page.PageID) == "" {
			errs = append(errs, fmt.Errorf("%s.page_id is required", where))
		}
		if page.AccessToken == "" && c.Feed.AccessToken == "" {
			errs = append(errs, fmt.Errorf("%s.access_token is required when feed.access_token is unset", where))
		}
		if page.MaxPosts < 0 || page.MaxPages < 0 {
			errs = append(errs, fmt.Errorf("%s limits must be >= 0", where))
		}
	}
	return errs
}

// compilePattern anchors pattern so it must match the whole URL.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return re, nil
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := compilePattern(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

// CrawlSites converts the validated site list into crawler targets, filling
// zero limits from the crawl defaults.
func (c Config) CrawlSites() []crawler.Site {
	sites := make([]crawler.Site, 0, len(c.Crawl.Sites))
	for _, s := range c.Crawl.Sites {
		site := crawler.Site{
			Name:         s.Name,
			Seeds:        append([]string(nil), s.Seeds...),
			AllowedHosts: append([]string(nil), s.AllowedHosts...),
			Include:      compilePatterns(s.Include),
			Exclude:      compilePatterns(s.Exclude),
			MaxDepth:     s.MaxDepth,
			MaxPages:     s.MaxPages,
			Concurrency:  s.Concurrency,
			UserAgent:    s.UserAgent,
			Timeout:      s.Timeout,
		}
		if site.MaxDepth == 0 {
			site.MaxDepth = c.Crawl.DefaultMaxDepth
		}
		if site.MaxPages == 0 {
			site.MaxPages = c.Crawl.DefaultMaxPages
		}
		if site.Concurrency == 0 {
			site.Concurrency = c.Crawl.DefaultConcurrency
		}
		if site.UserAgent == "" {
			site.UserAgent = c.HTTP.UserAgent
		}
		if site.Timeout <= 0 {
			site.Timeout = c.HTTP.Timeout
		}
		sites = append(sites, site)
	}
	return sites
}

// FeedPages converts the validated page list into feed targets.
func (c Config) FeedPages() []feed.Target {
	targets := make([]feed.Target, 0, len(c.Feed.Pages))
	for _, p := range c.Feed.Pages {
		token := p.AccessToken
		if token == "" {
			token = c.Feed.AccessToken
		}
		targets = append(targets, feed.Target{
			Name:        p.Name,
			PageID:      p.PageID,
			AccessToken: token,
			MaxPosts:    p.MaxPosts,
			MaxPages:    p.MaxPages,
		})
	}
	return targets
}
