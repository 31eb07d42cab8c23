// Package webstalk provides a public SDK for embedding the crawler as a
// library.
//
// Example usage:
//
//	crawler, err := webstalk.NewCrawler(
//	    webstalk.WithConcurrency(5),
//	    webstalk.WithMaxDepth(3),
//	    webstalk.WithOutput("jsonl", "./output"),
//	)
//
//	crawler.OnResult(func(r *types.CrawlResult) {
//	    log.Println(r.Request.URLString(), r.Response.StatusCode)
//	})
//
//	crawler.Start(context.Background(), "https://example.com")
//	crawler.Wait()
package webstalk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/engine"
	"github.com/crawlkit/webstalk/internal/fetcher"
	"github.com/crawlkit/webstalk/internal/parser"
	"github.com/crawlkit/webstalk/internal/storage"
	"github.com/crawlkit/webstalk/internal/types"
)

// Crawler is the high-level API for using webstalk as a library. It owns
// config assembly and component wiring; the engine itself stays unaware of
// this package.
type Crawler struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine

	mu          sync.Mutex
	resultHooks []func(*types.CrawlResult)
	errorHooks  []func(*engine.CrawlErrorEvent)
}

// Option configures a Crawler's underlying config before the engine is built.
type Option func(*config.Config)

// WithConcurrency sets the number of concurrent workers.
func WithConcurrency(n int) Option {
	return func(c *config.Config) { c.Engine.Concurrency = n }
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(c *config.Config) { c.Engine.MaxDepth = depth }
}

// WithMaxRequests sets the global request limit. Zero means unlimited.
func WithMaxRequests(n int) Option {
	return func(c *config.Config) { c.Engine.MaxRequests = n }
}

// WithDelay sets the politeness delay between requests to the same host.
func WithDelay(d time.Duration) Option {
	return func(c *config.Config) { c.Engine.PolitenessDelay = d }
}

// WithOutput sets the output format (json, jsonl, csv, sqlite, mongo) and
// its destination (a directory for json/jsonl/csv, a DSN for sqlite/mongo).
func WithOutput(format, path string) Option {
	return func(c *config.Config) {
		c.Storage.Type = format
		c.Storage.OutputPath = path
		c.Storage.DSN = path
	}
}

// WithUserAgent sets a single custom User-Agent, replacing the rotation pool.
func WithUserAgent(ua string) Option {
	return func(c *config.Config) { c.Engine.UserAgents = []string{ua} }
}

// WithAllowedDomains restricts crawling to hosts that exactly match one of
// the given domains; subdomains are not matched.
func WithAllowedDomains(domains ...string) Option {
	return func(c *config.Config) { c.Engine.AllowedDomains = domains }
}

// WithProxy enables proxy rotation across the given proxy URLs.
func WithProxy(urls ...string) Option {
	return func(c *config.Config) {
		c.Proxy.Enabled = true
		c.Proxy.URLs = urls
	}
}

// WithRobotsRespect enables or disables robots.txt compliance.
func WithRobotsRespect(respect bool) Option {
	return func(c *config.Config) { c.Engine.RespectRobotsTxt = respect }
}

// WithRules attaches CSS/XPath/regex field-extraction rules, evaluated by
// the parser's RuleExtractor in addition to the structural extractors.
func WithRules(rules ...config.ParseRule) Option {
	return func(c *config.Config) { c.Parser.Rules = rules }
}

// WithMemoryLimitMB sets the advisory memory ceiling that triggers an
// automatic pause/resume cycle. Zero disables the watcher.
func WithMemoryLimitMB(mb int) Option {
	return func(c *config.Config) { c.Engine.MemoryLimitMB = mb }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// WithResumeFromCheckpoint restores frontier, seen-set and stats from a
// prior checkpoint file on Start, if one exists. No-op on a fresh job
// directory.
func WithResumeFromCheckpoint() Option {
	return func(c *config.Config) { c.Engine.ResumeFromCheckpoint = true }
}

// NewCrawler assembles a Config from DefaultConfig plus opts, builds the
// downloader and parser, and constructs the underlying engine. Storage is
// wired from cfg.Storage.Type; call WithOutput to pick a backend.
func NewCrawler(opts ...Option) (*Crawler, error) {
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	downloader, err := fetcher.NewDownloader(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create downloader: %w", err)
	}
	dispatcher := parser.NewContentDispatcher(cfg, logger)

	eng := engine.New(cfg, logger, downloader, dispatcher)

	store, err := newStorageFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}
	eng.SetStorage(store)

	c := &Crawler{cfg: cfg, logger: logger, engine: eng}

	eng.Subscribe(engine.EventCrawlCompleted, func(payload any) {
		ev, ok := payload.(engine.CrawlCompletedEvent)
		if !ok {
			return
		}
		c.mu.Lock()
		hooks := append([]func(*types.CrawlResult){}, c.resultHooks...)
		c.mu.Unlock()
		for _, h := range hooks {
			h(ev.Result)
		}
	})
	eng.Subscribe(engine.EventCrawlError, func(payload any) {
		ev, ok := payload.(engine.CrawlErrorEvent)
		if !ok {
			return
		}
		c.mu.Lock()
		hooks := append([]func(*engine.CrawlErrorEvent){}, c.errorHooks...)
		c.mu.Unlock()
		for _, h := range hooks {
			h(&ev)
		}
	})

	return c, nil
}

func newStorageFromConfig(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "mongo", "mongodb":
		return storage.NewMongoStorage(cfg.Storage.DSN, "webstalk", logger)
	case "sqlite":
		return storage.NewSQLiteStorage(cfg.Storage.DSN, logger)
	default:
		return storage.NewFileStorage(cfg.Storage.Type, cfg.Storage.OutputPath, logger)
	}
}

// OnResult registers a callback invoked once per successfully fetched
// request, after its result is handed to storage; pages whose parse or
// storage step failed are included (OnError fires for them as well), and
// links are discovered only from pages that parsed. Callbacks run synchronously on
// the worker goroutine that produced the result; keep them fast.
func (c *Crawler) OnResult(cb func(*types.CrawlResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resultHooks = append(c.resultHooks, cb)
}

// OnError registers a callback invoked for every terminal fetch, parse or
// storage failure.
func (c *Crawler) OnError(cb func(*engine.CrawlErrorEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHooks = append(c.errorHooks, cb)
}

// Start seeds the crawl with urls and launches the worker pool. It returns
// once workers are running, not once the crawl is complete — call Wait for
// that.
func (c *Crawler) Start(ctx context.Context, urls ...string) error {
	if err := c.engine.Start(ctx); err != nil {
		return err
	}
	accepted := c.engine.AddSeedUrls(urls)
	if accepted == 0 && len(urls) > 0 {
		c.engine.Stop(false)
		return fmt.Errorf("all %d seed(s) were filtered or already seen", len(urls))
	}
	return nil
}

// Wait blocks until the engine reaches Idle, Completed, or Error.
func (c *Crawler) Wait() {
	for {
		switch c.engine.State() {
		case engine.StateIdle, engine.StateCompleted, engine.StateError:
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Stop gracefully stops the crawler, waiting for in-flight requests to drain.
func (c *Crawler) Stop() {
	c.engine.Stop(true)
}

// Pause pauses the crawler.
func (c *Crawler) Pause() {
	c.engine.Pause()
}

// Resume resumes the crawler.
func (c *Crawler) Resume() {
	c.engine.Resume()
}

// Stats returns a snapshot of crawl statistics.
func (c *Crawler) Stats() map[string]any {
	return c.engine.GetStatistics()
}
