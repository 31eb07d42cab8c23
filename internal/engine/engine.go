package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/observability"
	"github.com/crawlkit/webstalk/internal/storage"
	"github.com/crawlkit/webstalk/internal/types"
)

// State represents the engine's current lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusChangedEvent is the payload published on every status transition.
type StatusChangedEvent struct {
	Previous State
	Current  State
	Message  string
}

// CrawlCompletedEvent is published after a request is downloaded, parsed
// and handed to storage. It is published even when the parse step or the
// storage write failed; those failures also publish a CrawlErrorEvent.
type CrawlCompletedEvent struct {
	Result *types.CrawlResult
}

// CrawlErrorEvent is published when a request fails terminally (retries
// exhausted, non-retryable classification, parse failure, or storage
// error).
type CrawlErrorEvent struct {
	Request *types.Request
	Kind    types.ErrorKind
	Err     error
}

// UrlDiscoveredEvent is published once per child URL the scheduler actually
// accepts (i.e. Add/AddBatch returned true for it).
type UrlDiscoveredEvent struct {
	URL       string
	Depth     int
	ParentURL string
}

// Stats tracks crawl statistics. Exported atomic fields may be read lock-free;
// Snapshot returns a consistent map for reporting.
type Stats struct {
	RequestsSent    atomic.Int64
	RequestsFailed  atomic.Int64
	ResponsesOK     atomic.Int64
	ResponsesError  atomic.Int64
	ItemsScraped    atomic.Int64
	ItemsDropped    atomic.Int64
	URLsEnqueued    atomic.Int64
	URLsFiltered    atomic.Int64
	BytesDownloaded atomic.Int64
	TotalDownloadNs atomic.Int64
	ActiveWorkers   atomic.Int32
	StartTime       time.Time
	mu              sync.RWMutex
	domainStats     map[string]*DomainStats
}

// DomainStats tracks per-domain statistics for live reporting (distinct
// from the Scheduler's EWMA-based DomainPerformanceTracker, which feeds
// priority — this is purely descriptive).
type DomainStats struct {
	Requests  int64
	Responses int64
	Errors    int64
	LastFetch time.Time
}

func (s *Stats) recordDomain(host string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domainStats[host]
	if !ok {
		d = &DomainStats{}
		s.domainStats[host] = d
	}
	d.Requests++
	d.LastFetch = time.Now()
	if success {
		d.Responses++
	} else {
		d.Errors++
	}
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"requests_sent":    s.RequestsSent.Load(),
		"requests_failed":  s.RequestsFailed.Load(),
		"responses_ok":     s.ResponsesOK.Load(),
		"responses_error":  s.ResponsesError.Load(),
		"items_scraped":    s.ItemsScraped.Load(),
		"items_dropped":    s.ItemsDropped.Load(),
		"urls_enqueued":    s.URLsEnqueued.Load(),
		"urls_filtered":    s.URLsFiltered.Load(),
		"bytes_downloaded": s.BytesDownloaded.Load(),
		"active_workers":   s.ActiveWorkers.Load(),
		"elapsed":          time.Since(s.StartTime).String(),
	}
}

func (s *Stats) domainBreakdown() map[string]*types.DomainStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.DomainStats, len(s.domainStats))
	for host, d := range s.domainStats {
		out[host] = &types.DomainStats{
			Domain:       host,
			RequestCount: d.Requests,
			SuccessCount: d.Responses,
			ErrorCount:   d.Errors,
		}
	}
	return out
}

// Fetcher is the interface the Engine requires of its Downloader: fetch one
// request, classify failures onto *types.FetchError, never retry itself.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
	Close() error
}

// Parser is the interface the Engine requires of its content dispatcher.
type Parser interface {
	Parse(resp *types.Response) (*types.ParseResult, error)
}

// Engine is the core crawler orchestrator: it owns the worker pool, the
// status variable and the job id. The Scheduler (priority queue, seen-set,
// domain-delay table) and Storage (external collaborator) are held by
// reference and never mutated directly by more than one worker at a time.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	scheduler  *Scheduler
	downloader Fetcher
	parser     Parser
	storage    storage.Storage
	events     *EventBus
	metrics    *observability.Metrics
	checkpoint *CheckpointManager

	state atomic.Int32
	stats *Stats

	mu    sync.RWMutex
	jobID string

	resumeMu sync.Mutex
	resumeCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine from cfg around the given downloader and parser;
// the caller must still call SetStorage before Start, since persistence is
// an external collaborator.
func New(cfg *config.Config, logger *slog.Logger, downloader Fetcher, parser Parser) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		scheduler:  NewScheduler(cfg, logger),
		downloader: downloader,
		parser:     parser,
		events:     NewEventBus(logger),
		metrics:    observability.NewMetrics(logger),
		checkpoint: NewCheckpointManager(cfg.Engine.CheckpointInterval),
		stats: &Stats{
			domainStats: make(map[string]*DomainStats),
		},
		resumeCh: closedChan(),
	}
	if rd, ok := downloader.(robotsDelayer); ok {
		e.scheduler.SetCrawlDelaySource(rd)
	}
	e.state.Store(int32(StateIdle))
	return e
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// SetStorage sets the storage implementation. Must be called before Start.
func (e *Engine) SetStorage(s storage.Storage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.storage = s
}

// Subscribe registers handler for kind and returns a Handle for Unsubscribe.
// Handlers should be registered before Start and unsubscribed after Stop.
func (e *Engine) Subscribe(kind EventKind, handler EventHandler) Handle {
	return e.events.Subscribe(kind, handler)
}

// Unsubscribe removes a previously registered handler.
func (e *Engine) Unsubscribe(h Handle) {
	e.events.Unsubscribe(h)
}

// State returns the current engine state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// JobID returns the current (or most recent) job id.
func (e *Engine) JobID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.jobID
}

// AddSeedUrls normalizes urls into depth-0 Requests with default priority
// and submits them to the Scheduler. Returns the count actually enqueued —
// malformed URLs and duplicates are silently skipped.
func (e *Engine) AddSeedUrls(urls []string) int {
	accepted := 0
	for _, raw := range urls {
		req, err := types.NewRequest(raw)
		if err != nil {
			e.stats.URLsFiltered.Add(1)
			continue
		}
		req.Priority = types.PriorityNormal
		req.Depth = 0
		req.MaxRetries = e.cfg.RetryPolicy.MaxRetries
		if e.scheduler.Add(req) {
			e.stats.URLsEnqueued.Add(1)
			accepted++
		} else {
			e.stats.URLsFiltered.Add(1)
		}
	}
	return accepted
}

// Start transitions Idle -> Running, records a fresh job id and spawns
// Concurrency worker goroutines. It does not reset the seen-set: URLs added
// before Start (such as seeds) stay marked as seen. It is
// idempotent while already Running: a second call logs a warning and
// returns nil without starting a second worker pool.
func (e *Engine) Start(parent context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if e.State() == StateRunning {
			e.logger.Warn("start called while already running, ignoring")
			return nil
		}
		return fmt.Errorf("engine is in state %s, cannot start", e.State())
	}

	if e.cfg.Engine.Concurrency <= 0 {
		e.state.Store(int32(StateError))
		return fmt.Errorf("%w: concurrency must be positive", typesConfigError())
	}

	e.mu.Lock()
	e.jobID = fmt.Sprintf("job-%d-%d", time.Now().Unix(), rand.Int63())
	if e.storage == nil {
		e.logger.Warn("no storage configured, crawl results will not be persisted")
	}
	e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(parent)
	e.stats = &Stats{StartTime: time.Now(), domainStats: make(map[string]*DomainStats)}
	e.resumeCh = closedChan()

	if e.cfg.Engine.ResumeFromCheckpoint && e.checkpoint.HasCheckpoint() {
		e.scheduler.SetMaxDepth(e.cfg.Engine.MaxDepth)
		if err := e.checkpoint.Load(e.scheduler, e.stats); err != nil {
			e.logger.Error("checkpoint restore failed, starting fresh", "error", err)
		} else {
			e.logger.Info("resumed from checkpoint", "queued", e.scheduler.Len())
		}
	}

	e.publishStatus(StateIdle, StateRunning, "crawl started")

	e.logger.Info("engine starting",
		"job_id", e.jobID,
		"concurrency", e.cfg.Engine.Concurrency,
		"max_depth", e.cfg.Engine.MaxDepth,
		"respect_robots", e.cfg.Engine.RespectRobotsTxt,
	)

	for i := 0; i < e.cfg.Engine.Concurrency; i++ {
		e.wg.Add(1)
		e.stats.ActiveWorkers.Add(1)
		go e.workerLoop(i)
	}

	if e.cfg.Engine.MemoryLimitMB > 0 {
		e.wg.Add(1)
		go e.memoryWatcher()
	}

	if e.cfg.Engine.CheckpointInterval > 0 {
		e.wg.Add(1)
		go e.autoCheckpoint()
	}

	return nil
}

// typesConfigError gives Start's config-validation error a message that
// carries the stable ErrorKindConfigError name.
func typesConfigError() error {
	return fmt.Errorf("config error (%s)", types.ErrorKindConfigError)
}

// Stop transitions the engine to Stopping and closes the scheduler. If
// graceful, it waits up to a bounded drain window for in-flight requests to
// finish before cancelling; otherwise it cancels at once. Either way it ends in
// Stopped then Idle, publishing a StatusChanged event for each hop.
func (e *Engine) Stop(graceful bool) {
	prev := e.State()
	if prev != StateRunning && prev != StatePaused {
		return
	}
	e.state.Store(int32(StateStopping))
	e.publishStatus(prev, StateStopping, "stop requested")

	e.scheduler.Close() // unblocks any worker parked in Next()
	e.unpauseForShutdown()

	if graceful {
		drained := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(30 * time.Second):
			e.logger.Warn("graceful drain window exceeded, forcing stop")
			e.cancel()
			<-drained
		}
	} else {
		e.cancel()
		e.wg.Wait()
	}

	e.saveFinalCheckpoint()

	e.state.Store(int32(StateStopped))
	e.publishStatus(StateStopping, StateStopped, "workers drained")

	if e.downloader != nil {
		if err := e.downloader.Close(); err != nil {
			e.logger.Error("downloader close error", "error", err)
		}
	}
	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			e.logger.Error("storage close error", "error", err)
		}
	}

	e.logger.Info("engine stopped", "job_id", e.JobID(), "stats", e.stats.Snapshot())

	e.state.Store(int32(StateIdle))
	e.publishStatus(StateStopped, StateIdle, "ready")
}

// Pause transitions Running -> Paused. Workers finish any in-flight request
// naturally and then block before pulling the next one.
func (e *Engine) Pause() {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StatePaused)) {
		return
	}
	e.resumeMu.Lock()
	e.resumeCh = make(chan struct{})
	e.resumeMu.Unlock()
	e.logger.Info("engine paused")
	e.publishStatus(StateRunning, StatePaused, "paused")
}

// Resume transitions Paused -> Running, releasing every worker blocked on
// the pause gate.
func (e *Engine) Resume() {
	if !e.state.CompareAndSwap(int32(StatePaused), int32(StateRunning)) {
		return
	}
	e.resumeMu.Lock()
	close(e.resumeCh)
	e.resumeMu.Unlock()
	e.logger.Info("engine resumed")
	e.publishStatus(StatePaused, StateRunning, "resumed")
}

// unpauseForShutdown releases any worker blocked on the pause gate so Stop
// can observe them exit instead of hanging forever.
func (e *Engine) unpauseForShutdown() {
	e.resumeMu.Lock()
	defer e.resumeMu.Unlock()
	select {
	case <-e.resumeCh:
	default:
		close(e.resumeCh)
	}
}

func (e *Engine) publishStatus(prev, cur State, message string) {
	e.events.Publish(EventStatusChanged, StatusChangedEvent{Previous: prev, Current: cur, Message: message})
}

// Stats returns the current crawl statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// GetStatistics returns a read-only snapshot of counters, uptime, queue
// length, worker count, job id and status.
func (e *Engine) GetStatistics() map[string]any {
	snap := e.stats.Snapshot()
	snap["job_id"] = e.JobID()
	snap["status"] = e.State().String()
	snap["queue_length"] = e.scheduler.Len()
	snap["queued_count"] = e.scheduler.QueuedCount()
	snap["processed_count"] = e.scheduler.ProcessedCount()
	snap["error_count"] = e.scheduler.ErrorCount()
	return snap
}

// GetCurrentCrawlState returns the current job's counters as a
// storage.CrawlState, suitable for SaveCrawlState checkpointing or direct
// inspection.
func (e *Engine) GetCurrentCrawlState() *storage.CrawlState {
	return &storage.CrawlState{
		JobID:           e.JobID(),
		StartedAt:       e.stats.StartTime,
		EndedAt:         time.Now(),
		Discovered:      e.stats.URLsEnqueued.Load(),
		Processed:       e.scheduler.ProcessedCount(),
		Success:         e.stats.ResponsesOK.Load(),
		Error:           e.stats.ResponsesError.Load(),
		Skipped:         e.stats.URLsFiltered.Load(),
		AvgDownloadTime: e.averageDownloadTime(),
		TotalBytes:      e.stats.BytesDownloaded.Load(),
		Domains:         e.stats.domainBreakdown(),
	}
}

func (e *Engine) averageDownloadTime() time.Duration {
	n := e.stats.ResponsesOK.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(e.stats.TotalDownloadNs.Load() / n)
}

// memoryWatcher samples heap usage and pauses the engine when it exceeds
// MemoryLimitMB, resuming automatically once usage drops. Advisory only,
// per the open question on memory-limit enforcement.
func (e *Engine) memoryWatcher() {
	defer e.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	limitBytes := uint64(e.cfg.Engine.MemoryLimitMB) * 1024 * 1024
	pausedBySelf := false

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			if mem.Alloc > limitBytes && e.State() == StateRunning {
				e.logger.Warn("memory limit exceeded, pausing", "alloc_mb", mem.Alloc/1024/1024, "limit_mb", e.cfg.Engine.MemoryLimitMB)
				e.Pause()
				pausedBySelf = true
			} else if pausedBySelf && mem.Alloc <= limitBytes && e.State() == StatePaused {
				e.logger.Info("memory usage recovered, resuming", "alloc_mb", mem.Alloc/1024/1024)
				e.Resume()
				pausedBySelf = false
			}
		}
	}
}

// autoCheckpoint periodically saves frontier/seen-set/stats to local disk
// for resume, and mirrors job-level counters into the external storage
// backend's crawl_state row.
func (e *Engine) autoCheckpoint() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Engine.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.checkpoint.Save(e.scheduler, e.stats); err != nil {
				e.logger.Error("checkpoint save failed", "error", err)
			}
			e.saveCrawlStateToStorage()
		}
	}
}

func (e *Engine) saveFinalCheckpoint() {
	if err := e.checkpoint.Save(e.scheduler, e.stats); err != nil {
		e.logger.Error("final checkpoint save failed", "error", err)
	}
	e.saveCrawlStateToStorage()
}

func (e *Engine) saveCrawlStateToStorage() {
	if e.storage == nil {
		return
	}
	if err := e.storage.SaveCrawlState(e.GetCurrentCrawlState()); err != nil {
		e.logger.Error("storage error saving crawl state", "error", err)
	}
}
