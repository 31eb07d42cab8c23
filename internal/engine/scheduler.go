package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/types"
	"golang.org/x/time/rate"
)

// robotsDelayer is satisfied by a Fetcher that can report a per-host
// robots.txt Crawl-delay directive. The Scheduler only depends on this
// narrow interface so it never needs to know about the fetcher package.
type robotsDelayer interface {
	RobotsCrawlDelay(rawURL string) time.Duration
}

// maxSkipsFactor bounds how many times Next will re-insert a throttled
// candidate and retry before giving up and returning nil as a backpressure
// signal to the caller, relative to configured concurrency.
const maxSkipsFactor = 3

// Scheduler owns the crawl frontier, the URL seen-set, per-domain rate
// limiting and the domain performance tracker. It decides what gets queued
// and in what order workers see it; it does not run the workers itself —
// that is the Engine's job.
type Scheduler struct {
	logger *slog.Logger
	cfg    *config.Config

	frontier *Frontier
	dedup    *Deduplicator
	filter   *URLFilter
	perf     *DomainPerformanceTracker

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	delayMu    sync.Mutex
	lastAccess map[string]time.Time

	// crawlDelayer, when set, supplies a robots.txt Crawl-delay directive
	// per host that extends (never shortens) PolitenessDelay.
	crawlDelayer robotsDelayer

	queued    atomic.Int64
	processed atomic.Int64
	errored   atomic.Int64
}

// NewScheduler builds a Scheduler from cfg. It does not start any
// background goroutines; Next/Add are safe to call immediately.
func NewScheduler(cfg *config.Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger.With("component", "scheduler"),
		cfg:      cfg,
		frontier: NewFrontier(cfg.Engine.MaxQueueSize),
		dedup:    NewDeduplicator(1_000_000),
		filter: NewURLFilter(
			cfg.Engine.AllowedDomains,
			cfg.Engine.DisallowedDomains,
			cfg.Engine.BlockedPatterns,
			cfg.Engine.MaxDepth,
		),
		perf:       NewDomainPerformanceTracker(),
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
	}
}

// Add runs req through the URL filter and seen-set before pushing it onto
// the frontier with its effective priority. It returns true only when the
// request was actually inserted — which also fails when the frontier is at
// MaxQueueSize and req ranks no better than everything already queued.
func (s *Scheduler) Add(req *types.Request) bool {
	urlStr := req.URLString()
	if !s.filter.Allow(urlStr, req.Depth) {
		return false
	}
	if !s.dedup.CheckAndMark(urlStr) {
		return false
	}
	return s.enqueue(req)
}

// AddBatch calls Add for every request and returns how many were accepted.
func (s *Scheduler) AddBatch(reqs []*types.Request) int {
	accepted := 0
	for _, req := range reqs {
		if s.Add(req) {
			accepted++
		}
	}
	return accepted
}

// AddRetry re-queues req without consulting the seen-set: the URL was
// already marked seen on first admission, so a plain Add would silently
// drop every retry. It can still fail under MaxQueueSize backpressure like
// any other enqueue.
func (s *Scheduler) AddRetry(req *types.Request) bool {
	return s.enqueue(req)
}

// SetCrawlDelaySource wires in a robots.txt Crawl-delay lookup. The Engine
// calls this at construction time when its Fetcher happens to implement
// robotsDelayer (the Downloader does); without it the scheduler falls back
// to PolitenessDelay alone.
func (s *Scheduler) SetCrawlDelaySource(d robotsDelayer) { s.crawlDelayer = d }

// effectivePriority computes the heap key for req without mutating its
// caller-assigned base Priority: basePriority + depth*DepthPenalty +
// domainSlowdown(host), recomputed fresh on every enqueue so retries and
// throttle re-insertions never accumulate penalties from prior passes
// through the heap.
func (s *Scheduler) effectivePriority(req *types.Request) int {
	return req.Priority + req.Depth*DepthPenalty + s.perf.Slowdown(req.Domain())
}

func (s *Scheduler) enqueue(req *types.Request) bool {
	if !s.frontier.PushPriority(req, s.effectivePriority(req)) {
		return false
	}
	s.queued.Add(1)
	return true
}

// Next pops the lowest effective-priority candidate whose host is not
// currently rate-limited. A throttled candidate is re-inserted with a small
// delay penalty and Next retries, up to 3*Concurrency skips, after which it
// returns nil as a backpressure signal rather than spinning forever.
func (s *Scheduler) Next(ctx context.Context) *types.Request {
	maxSkips := maxSkipsFactor * s.cfg.Engine.Concurrency
	if maxSkips <= 0 {
		maxSkips = maxSkipsFactor
	}

	for skips := 0; skips < maxSkips; skips++ {
		req := s.frontier.Pop(ctx)
		if req == nil {
			return nil
		}

		host := req.Domain()
		if !s.allow(req) {
			if !s.frontier.PushPriority(req, s.effectivePriority(req)+skips+1) {
				s.logger.Debug("next: throttled request dropped, frontier at capacity", "url", req.URLString())
			}
			continue
		}

		s.recordAccess(host)
		return req
	}
	s.logger.Debug("next: exhausted skip budget, signaling backpressure")
	return nil
}

// allow applies the per-host token bucket, lazily creating one per domain.
func (s *Scheduler) allow(req *types.Request) bool {
	host := req.Domain()
	rps := s.cfg.Fetcher.RequestsPerSecond
	if rps <= 0 {
		return s.delayElapsed(host, req.URLString())
	}

	s.limitersMu.Lock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
		s.limiters[host] = lim
	}
	s.limitersMu.Unlock()

	return lim.Allow() && s.delayElapsed(host, req.URLString())
}

// delayElapsed enforces a minimum inter-request gap per host: PolitenessDelay
// from config, stretched to a robots.txt Crawl-delay directive when one is
// declared and longer. It composes with the token bucket rather than
// conflicting with it.
func (s *Scheduler) delayElapsed(host, urlStr string) bool {
	delay := s.cfg.Engine.PolitenessDelay
	if s.crawlDelayer != nil {
		if robotsDelay := s.crawlDelayer.RobotsCrawlDelay(urlStr); robotsDelay > delay {
			delay = robotsDelay
		}
	}
	if delay <= 0 {
		return true
	}

	s.delayMu.Lock()
	defer s.delayMu.Unlock()
	last, ok := s.lastAccess[host]
	if !ok {
		return true
	}
	return time.Since(last) >= delay
}

func (s *Scheduler) recordAccess(host string) {
	s.delayMu.Lock()
	s.lastAccess[host] = time.Now()
	s.delayMu.Unlock()
}

// RecordDomainPerformance folds one fetch outcome into the domain
// performance tracker that feeds future effective-priority penalties.
func (s *Scheduler) RecordDomainPerformance(host string, latency time.Duration, success bool) {
	s.perf.Record(host, latency, success)
}

// MarkProcessed/MarkErrored update the scheduler's atomic counters; callers
// (the Engine's worker loop) invoke these once a request's outcome is known.
func (s *Scheduler) MarkProcessed() { s.processed.Add(1) }
func (s *Scheduler) MarkErrored()   { s.errored.Add(1) }

func (s *Scheduler) QueuedCount() int64    { return s.queued.Load() }
func (s *Scheduler) ProcessedCount() int64 { return s.processed.Load() }
func (s *Scheduler) ErrorCount() int64     { return s.errored.Load() }

// Close shuts the frontier down, unblocking any goroutine waiting in Next.
func (s *Scheduler) Close() { s.frontier.Close() }

// Len reports how many requests are currently queued.
func (s *Scheduler) Len() int { return s.frontier.Len() }

// IsClosed reports whether the frontier has been closed.
func (s *Scheduler) IsClosed() bool { return s.frontier.IsClosed() }

// SetMaxDepth updates the depth ceiling the URL filter enforces, e.g. when a
// crawl resumes from a checkpoint under a configuration whose MaxDepth
// differs from the one the checkpoint was taken under.
func (s *Scheduler) SetMaxDepth(depth int) { s.filter.SetMaxDepth(depth) }

// Snapshot/Restore expose the frontier and dedup state for checkpointing.
func (s *Scheduler) Snapshot() []*types.Request  { return s.frontier.Snapshot() }
func (s *Scheduler) RestoreAll(r []*types.Request) { s.frontier.RestoreAll(r) }
func (s *Scheduler) ExportSeen() []string          { return s.dedup.Export() }
func (s *Scheduler) ImportSeen(hashes []string)    { s.dedup.Import(hashes) }
