package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
qdrant:
  url: http://qdrant:6333
  collection: shop
embedding:
  provider: hash
  dimensions: 64
indexing:
  min_content_chars: 120
  extraction_mode: readability
retention:
  max_age: 240h
http:
  user_agent: shop-bot/2.0
  timeout: 5s
crawl:
  default_max_depth: 3
  default_max_pages: 50
  sites:
    - name: shop
      seeds: ["https://shop.example.com/"]
      include: ["https://shop\\.example\\.com/(products|deals)/.*"]
      exclude: [".*\\?page=\\d+"]
      max_pages: 10
    - name: blog
      seeds: ["https://blog.example.com/"]
      allowed_hosts: ["*.example.com"]
      max_depth: 1
      user_agent: blog-bot
feed:
  access_token: shared-token
  pages:
    - name: shop
      page_id: "123"
      max_posts: 40
    - name: outlet
      page_id: "456"
      access_token: outlet-token
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, "shop", cfg.Qdrant.Collection)
	assert.Equal(t, EmbeddingHash, cfg.Embedding.Provider)
	assert.Equal(t, 120, cfg.Indexing.MinContentChars)
	assert.Equal(t, 240*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, "30 3 * * *", cfg.Schedule.Daily, "defaults survive partial files")
	assert.True(t, cfg.Progress.Enabled)
	assert.Equal(t, time.Second, cfg.Progress.FlushInterval)
	assert.Equal(t, "ingest_changes", cfg.Postgres.ChangesTable)

	sites := cfg.CrawlSites()
	require.Len(t, sites, 2)
	shop := sites[0]
	assert.Equal(t, "shop", shop.Name)
	assert.Equal(t, 3, shop.MaxDepth)
	assert.Equal(t, 10, shop.MaxPages)
	assert.Equal(t, "shop-bot/2.0", shop.UserAgent)
	assert.Equal(t, 5*time.Second, shop.Timeout)
	require.Len(t, shop.Include, 1)
	assert.True(t, shop.Include[0].MatchString("https://shop.example.com/products/42"))
	assert.False(t, shop.Include[0].MatchString("https://evil.example.net/?u=https://shop.example.com/products/42"),
		"patterns are anchored to the whole URL")
	require.Len(t, shop.Exclude, 1)
	assert.True(t, shop.Exclude[0].MatchString("https://shop.example.com/deals/?page=2"))

	blog := sites[1]
	assert.Equal(t, 1, blog.MaxDepth)
	assert.Equal(t, 50, blog.MaxPages)
	assert.Equal(t, "blog-bot", blog.UserAgent)
	assert.Equal(t, []string{"*.example.com"}, blog.AllowedHosts)

	pages := cfg.FeedPages()
	require.Len(t, pages, 2)
	assert.Equal(t, "shared-token", pages[0].AccessToken)
	assert.Equal(t, 40, pages[0].MaxPosts)
	assert.Equal(t, "outlet-token", pages[1].AccessToken)
	assert.Equal(t, "feed:outlet", pages[1].Source())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadRequiresEmbeddingKeyForOpenAI(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "qdrant:\n  url: http://localhost:6333\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.api_key")
}

func validConfig() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		Qdrant:    QdrantConfig{URL: "http://localhost:6333", Collection: "retail"},
		Embedding: EmbeddingConfig{Provider: EmbeddingHash},
		Chunking:  ChunkingConfig{MaxTokens: 400, OverlapTokens: 40},
		HTTP:      HTTPConfig{Timeout: 10 * time.Second},
		Retention: RetentionConfig{MaxAge: 720 * time.Hour},
		Archive:   ArchiveConfig{Backend: ArchiveNone},
	}
}

func TestValidConfigPasses(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"missing qdrant url", func(c *Config) { c.Qdrant.URL = " " }, "qdrant.url"},
		{"unknown embedder", func(c *Config) { c.Embedding.Provider = "bert" }, "embedding.provider"},
		{"openai without key", func(c *Config) { c.Embedding.Provider = EmbeddingOpenAI }, "embedding.api_key"},
		{"overlap too large", func(c *Config) { c.Chunking.OverlapTokens = 400 }, "chunking.overlap_tokens"},
		{"negative min chars", func(c *Config) { c.Indexing.MinContentChars = -1 }, "indexing.min_content_chars"},
		{"unknown extraction mode", func(c *Config) { c.Indexing.ExtractionMode = "magic" }, "indexing.extraction_mode"},
		{"zero retention", func(c *Config) { c.Retention.MaxAge = 0 }, "retention.max_age"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = ArchiveGCS }, "archive.bucket"},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{
			"negative progress batch",
			func(c *Config) { c.Progress = ProgressConfig{Enabled: true, BatchSize: -1} },
			"progress buffer_size",
		},
		{"redis without ttl", func(c *Config) { c.Redis.Addr = "localhost:6379" }, "redis.lock_ttl"},
		{
			"duplicate site",
			func(c *Config) {
				c.Crawl.Sites = []SiteConfig{
					{Name: "shop", Seeds: []string{"https://a.example.com/"}},
					{Name: "shop", Seeds: []string{"https://b.example.com/"}},
				}
			},
			`"shop" is not unique`,
		},
		{"site without seeds", func(c *Config) { c.Crawl.Sites = []SiteConfig{{Name: "shop"}} }, "seeds must not be empty"},
		{
			"bad pattern",
			func(c *Config) {
				c.Crawl.Sites = []SiteConfig{{Name: "shop", Seeds: []string{"https://a.example.com/"}, Exclude: []string{"("}}}
			},
			`pattern "("`,
		},
		{
			"site in feed namespace",
			func(c *Config) {
				c.Crawl.Sites = []SiteConfig{{Name: "feed:shop", Seeds: []string{"https://a.example.com/"}}}
			},
			"must not start with",
		},
		{"page without token", func(c *Config) { c.Feed.Pages = []PageConfig{{Name: "shop", PageID: "1"}} }, "access_token"},
		{"page without id", func(c *Config) { c.Feed.Pages = []PageConfig{{Name: "shop", AccessToken: "t"}} }, "page_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Retention.MaxAge = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "must be > 0"))
}
