package crawler

import (
	"net/url"
	"regexp"
	"time"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

// Site is a validated crawl target. Sites are built once from configuration
// and never mutated during a run.
type Site struct {
	// Name is the source namespace written with every document.
	Name  string
	Seeds []string
	// AllowedHosts lists exact hosts or "*.domain" wildcards. When empty the
	// hosts of the seeds are used.
	AllowedHosts []string
	// Include patterns must match at least once when present.
	Include []*regexp.Regexp
	// Exclude patterns reject a URL on any match.
	Exclude     []*regexp.Regexp
	MaxDepth    int
	MaxPages    int
	Concurrency int
	UserAgent   string
	Timeout     time.Duration
}

// Rules decides which discovered URLs belong to a site.
type Rules struct {
	hosts   *hostMatcher
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewRules builds the allow rules for site.
func NewRules(site Site) *Rules {
	hosts := newHostMatcher(site.AllowedHosts)
	if hosts.empty() {
		seedHosts := make([]string, 0, len(site.Seeds))
		for _, seed := range site.Seeds {
			if u, err := url.Parse(seed); err == nil && u.Hostname() != "" {
				seedHosts = append(seedHosts, u.Hostname())
			}
		}
		hosts = newHostMatcher(seedHosts)
	}
	return &Rules{
		hosts:   hosts,
		include: site.Include,
		exclude: site.Exclude,
	}
}

// Allow normalizes rawURL and reports whether the site may enqueue it. The
// normalized form is returned so the frontier dedups equivalent URLs.
func (r *Rules) Allow(rawURL string) (string, bool) {
	normalized, err := ingest.NormalizeURL(rawURL)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !r.hosts.Matches(u.Hostname()) {
		return "", false
	}
	if len(r.include) > 0 && !anyMatch(r.include, normalized) {
		return "", false
	}
	if anyMatch(r.exclude, normalized) {
		return "", false
	}
	return normalized, true
}

func anyMatch(patterns []*regexp.Regexp, value string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
