package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/types"
)

// Downloader composes the HTTP transport with robots.txt enforcement and
// anti-bot detection, presenting the same Fetcher interface as the bare
// HTTPFetcher it wraps. The engine talks to a Downloader, never directly to
// HTTPFetcher, so politeness and bot-detection policy can't be bypassed.
type Downloader struct {
	http          *HTTPFetcher
	robots        *RobotsCache
	sessions      *SessionManager
	respectRobots bool
	detectAntiBot bool
	logger        *slog.Logger
}

// NewDownloader builds a Downloader from cfg.
func NewDownloader(cfg *config.Config, logger *slog.Logger) (*Downloader, error) {
	sessions := NewSessionManager(logger)

	httpFetcher, err := NewHTTPFetcher(cfg, logger, sessions)
	if err != nil {
		return nil, err
	}

	userAgent := "WebStalk/" + config.Version
	if len(cfg.Engine.UserAgents) > 0 {
		userAgent = cfg.Engine.UserAgents[0]
	}

	return &Downloader{
		http:          httpFetcher,
		robots:        NewRobotsCache(userAgent, logger),
		sessions:      sessions,
		respectRobots: cfg.Engine.RespectRobotsTxt,
		detectAntiBot: cfg.Fetcher.EnableAntiBotDetection,
		logger:        logger.With("component", "downloader"),
	}, nil
}

// Fetch enforces robots.txt, delegates to the HTTP transport, then
// classifies the result for anti-bot indicators before returning it.
func (d *Downloader) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	urlStr := req.URLString()

	if d.respectRobots && !d.robots.Allowed(urlStr) {
		return nil, &types.FetchError{
			URL:       urlStr,
			Kind:      types.ErrorKindRobotsDisallowed,
			Err:       types.ErrBlocked,
			Retryable: false,
		}
	}

	resp, err := d.http.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	if d.detectAntiBot && DetectAntiBot(resp.StatusCode, string(resp.Body)) {
		d.logger.Debug("anti-bot challenge detected", "url", urlStr, "status", resp.StatusCode)
		d.sessions.ClearDomain(req.Domain())
		return nil, &types.FetchError{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Kind:       types.ErrorKindAntiBot,
			Err:        types.ErrAntiBot,
			Retryable:  true,
		}
	}

	return resp, nil
}

// Close releases the underlying HTTP transport's connections.
func (d *Downloader) Close() error {
	return d.http.Close()
}

// Type returns the fetcher type identifier.
func (d *Downloader) Type() string {
	return "http"
}

// RobotsCrawlDelay exposes the robots.txt-declared delay for rawURL's host.
// The Engine wires this into the scheduler (see robotsDelayer in
// internal/engine/scheduler.go) so a site's own Crawl-delay directive can
// stretch the per-host politeness delay beyond the configured minimum.
func (d *Downloader) RobotsCrawlDelay(rawURL string) time.Duration {
	return d.robots.CrawlDelay(rawURL)
}
