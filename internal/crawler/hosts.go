package crawler

import "strings"

// hostMatcher stores exact hosts and suffix wildcards derived from configuration.
type hostMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

// newHostMatcher accepts "example.org", "*.example.org" and ".example.org".
// Wildcard entries match the bare domain and every subdomain.
func newHostMatcher(patterns []string) *hostMatcher {
	matcher := &hostMatcher{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	return matcher
}

func (m *hostMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

func (m *hostMatcher) empty() bool {
	return m == nil || (len(m.exact) == 0 && len(m.suffixes) == 0)
}

// Matches reports whether host (without port) is allowed.
func (m *hostMatcher) Matches(host string) bool {
	if m == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
