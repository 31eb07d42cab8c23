package engine

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// URLFilter decides whether a discovered URL is eligible for the frontier:
// allowed-domain whitelist, blocked-pattern denylist, and max-depth all live
// here so Scheduler.Add has one place to ask "should this even be queued".
type URLFilter struct {
	mu                sync.RWMutex
	allowedDomains    map[string]struct{}
	disallowedDomains map[string]struct{}
	blockedPatterns   []*regexp.Regexp
	maxDepth          int
}

// NewURLFilter compiles the blocked-pattern regexes once at construction so
// Allow never pays compilation cost on the hot path.
func NewURLFilter(allowedDomains, disallowedDomains, blockedPatterns []string, maxDepth int) *URLFilter {
	f := &URLFilter{
		allowedDomains:    toSet(allowedDomains),
		disallowedDomains: toSet(disallowedDomains),
		maxDepth:          maxDepth,
	}
	for _, p := range blockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		f.blockedPatterns = append(f.blockedPatterns, re)
	}
	return f
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[strings.ToLower(it)] = struct{}{}
	}
	return s
}

// Allow reports whether rawURL at depth should be admitted to the frontier.
// Malformed URLs, and URLs without a scheme or host, are rejected silently —
// callers treat false as "drop it", never as an error to surface.
func (f *URLFilter) Allow(rawURL string, depth int) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme == "" || u.Host == "" {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.maxDepth > 0 && depth > f.maxDepth {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if len(f.allowedDomains) > 0 {
		if _, ok := f.allowedDomains[host]; !ok {
			return false
		}
	}
	if _, ok := f.disallowedDomains[host]; ok {
		return false
	}

	for _, re := range f.blockedPatterns {
		if re.MatchString(rawURL) {
			return false
		}
	}
	return true
}

// SetMaxDepth updates the depth ceiling, e.g. when resuming from a
// checkpoint taken under a different configuration.
func (f *URLFilter) SetMaxDepth(depth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxDepth = depth
}
