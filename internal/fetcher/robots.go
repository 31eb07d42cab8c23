package fetcher

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsTxtPath = "/robots.txt"

// robotsEntry caches one host's parsed robots.txt alongside when it was
// fetched, so RobotsCache can refresh it after a TTL instead of refetching
// on every request.
type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsCache fetches and caches robots.txt per host using
// github.com/temoto/robotstxt, resolving the longest matching user-agent
// group and falling back to "*" when no exact match exists.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*robotsEntry
}

// NewRobotsCache creates a cache that fetches robots.txt with its own short
// HTTP client (independent of the main fetcher's transport, since a hung
// robots.txt lookup should never block on proxy or TLS settings meant for
// page fetches).
func NewRobotsCache(userAgent string, logger *slog.Logger) *RobotsCache {
	return &RobotsCache{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		ttl:       time.Hour,
		logger:    logger.With("component", "robots_cache"),
		entries:   make(map[string]*robotsEntry),
	}
}

// Allowed reports whether rawURL may be fetched under the cached robots.txt
// for its host. A robots.txt that fails to fetch or parse is treated as
// "allow everything" — the same default the rest of the web uses.
func (c *RobotsCache) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	data := c.get(u)
	if data == nil {
		return true
	}
	group := data.FindGroup(c.userAgent)
	return group.Test(u.Path)
}

// CrawlDelay returns the robots.txt-declared crawl delay for rawURL's host,
// or zero if none is declared.
func (c *RobotsCache) CrawlDelay(rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	data := c.get(u)
	if data == nil {
		return 0
	}
	return data.FindGroup(c.userAgent).CrawlDelay
}

func (c *RobotsCache) get(u *url.URL) *robotstxt.RobotsData {
	host := u.Scheme + "://" + u.Host

	c.mu.Lock()
	entry, ok := c.entries[host]
	c.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.data
	}

	data := c.fetch(host)
	c.mu.Lock()
	c.entries[host] = &robotsEntry{data: data, fetchedAt: time.Now()}
	c.mu.Unlock()
	return data
}

func (c *RobotsCache) fetch(host string) *robotstxt.RobotsData {
	resp, err := c.client.Get(fmt.Sprintf("%s%s", host, robotsTxtPath))
	if err != nil {
		c.logger.Debug("robots.txt fetch failed, allowing all", "host", host, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.logger.Debug("robots.txt parse failed, allowing all", "host", host, "error", err)
		return nil
	}
	return data
}
