package collyfetcher

import "net/url"

// parseURL parses primary, falling back to fallback; nil when neither parses.
func parseURL(primary, fallback string) *url.URL {
	for _, raw := range []string{primary, fallback} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil {
			return u
		}
	}
	return nil
}
