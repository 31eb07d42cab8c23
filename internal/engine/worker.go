package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/crawlkit/webstalk/internal/storage"
	"github.com/crawlkit/webstalk/internal/types"
)

// workerLoop is one of Concurrency identical goroutines pulling requests off
// the scheduler, fetching, parsing, storing and re-enqueuing discovered
// links, until the engine's context is cancelled, the scheduler is closed,
// the engine enters Stopping, or MaxRequests is reached. A nil from Next
// otherwise counts as backpressure: the worker waits briefly and retries.
// A panic inside the loop moves the engine to Error and cancels the rest.
func (e *Engine) workerLoop(id int) {
	defer e.wg.Done()
	defer e.stats.ActiveWorkers.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("worker fault", "worker", id, "panic", r)
			prev := e.State()
			e.state.Store(int32(StateError))
			e.publishStatus(prev, StateError, "worker fault")
			e.cancel()
		}
	}()

	log := e.logger.With("worker", id)

	for {
		if e.ctx.Err() != nil {
			return
		}

		// Pause gate: block here, not mid-fetch, so an in-flight request
		// always finishes before the worker parks.
		e.resumeMu.Lock()
		gate := e.resumeCh
		e.resumeMu.Unlock()
		select {
		case <-gate:
		case <-e.ctx.Done():
			return
		}

		if e.State() == StateStopping {
			return
		}

		if e.cfg.Engine.MaxRequests > 0 && e.scheduler.ProcessedCount() >= int64(e.cfg.Engine.MaxRequests) {
			e.maybeComplete()
			return
		}

		req := e.scheduler.Next(e.ctx)
		if req == nil {
			if e.ctx.Err() != nil || e.scheduler.IsClosed() {
				return
			}
			// Backpressure/skip-budget exhaustion: brief pause, then retry.
			select {
			case <-time.After(50 * time.Millisecond):
				continue
			case <-e.ctx.Done():
				return
			}
		}

		req.StartedAt = time.Now()
		e.processRequest(log, req)

		if e.cfg.Engine.MaxRequests > 0 && e.scheduler.ProcessedCount() >= int64(e.cfg.Engine.MaxRequests) {
			e.maybeComplete()
			return
		}
	}
}

// maybeComplete transitions Running -> Completed exactly once, the first
// worker to notice MaxRequests has been reached.
func (e *Engine) maybeComplete() {
	if e.state.CompareAndSwap(int32(StateRunning), int32(StateCompleted)) {
		e.logger.Info("max requests reached, crawl complete", "processed", e.scheduler.ProcessedCount())
		e.publishStatus(StateRunning, StateCompleted, "max requests reached")
		e.scheduler.Close()
	}
}

// processRequest fetches, parses and stores a single request, then
// schedules either child links (on success) or a retry (on a retryable
// failure). It never returns an error: all failure handling is terminal
// within this call.
func (e *Engine) processRequest(log *slog.Logger, req *types.Request) {
	host := req.Domain()
	e.stats.RequestsSent.Add(1)
	e.metrics.RequestsTotal.Add(1)

	ctx := e.ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(e.ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.downloader.Fetch(ctx, req)
	latency := time.Since(start)

	if err != nil {
		e.handleFetchError(log, req, host, latency, err)
		return
	}

	e.scheduler.RecordDomainPerformance(host, latency, true)
	e.stats.recordDomain(host, true)
	e.stats.ResponsesOK.Add(1)
	e.metrics.ResponsesTotal.Add(1)
	e.stats.BytesDownloaded.Add(resp.ContentLength)
	e.stats.TotalDownloadNs.Add(latency.Nanoseconds())
	e.metrics.BytesDownloaded.Add(resp.ContentLength)
	e.recordStatusClass(resp.StatusCode)
	e.scheduler.MarkProcessed()

	result := &types.CrawlResult{
		Request:       req,
		Response:      resp,
		ProcessedAt:   time.Now(),
		TotalDuration: time.Since(req.StartedAt),
	}

	parsed, perr := e.parser.Parse(resp)
	result.Parse = parsed
	if perr != nil || (parsed != nil && !parsed.Success) {
		msg := perr
		if msg == nil {
			msg = errors.New(parsed.ErrorMessage)
		}
		log.Warn("parse error", "url", req.URLString(), "error", msg)
		e.events.Publish(EventCrawlError, CrawlErrorEvent{Request: req, Kind: types.ErrorKindParseError, Err: msg})
		e.stats.ItemsDropped.Add(1)
		e.metrics.ItemsDropped.Add(1)
	} else {
		e.stats.ItemsScraped.Add(1)
		e.metrics.ItemsScraped.Add(1)
		e.enqueueChildren(req, parsed)
	}

	e.persist(log, req, result)
	e.events.Publish(EventCrawlCompleted, CrawlCompletedEvent{Result: result})
}

// recordStatusClass buckets a successful fetch's status code into the
// matching 2xx/3xx/4xx/5xx counter. Statuses that reach here are always
// <400 or a non-retried 4xx (the downloader turns 429 and every 5xx into
// a FetchError before processRequest ever sees a Response), but the
// buckets are kept general so any future relaxation of that policy is
// still counted correctly.
func (e *Engine) recordStatusClass(status int) {
	switch {
	case status >= 200 && status < 300:
		e.metrics.Responses2xx.Add(1)
	case status >= 300 && status < 400:
		e.metrics.Responses3xx.Add(1)
	case status >= 400 && status < 500:
		e.metrics.Responses4xx.Add(1)
	case status >= 500:
		e.metrics.Responses5xx.Add(1)
	}
}

// enqueueChildren filters parsed.Links through MaxDepth and submits every
// survivor as a depth+1 request inheriting the parent's base priority,
// publishing a UrlDiscoveredEvent for each one the scheduler actually
// accepts.
func (e *Engine) enqueueChildren(parent *types.Request, parsed *types.ParseResult) {
	if parsed == nil {
		return
	}
	if e.cfg.Engine.MaxDepth > 0 && parent.Depth+1 > e.cfg.Engine.MaxDepth {
		return
	}

	for _, link := range parsed.Links {
		child, err := types.NewRequest(link)
		if err != nil {
			continue
		}
		child.Depth = parent.Depth + 1
		child.Priority = parent.Priority
		child.ParentURL = parent.URLString()
		child.MaxRetries = e.cfg.RetryPolicy.MaxRetries

		if e.scheduler.Add(child) {
			e.stats.URLsEnqueued.Add(1)
			e.events.Publish(EventURLDiscovered, UrlDiscoveredEvent{
				URL:       child.URLString(),
				Depth:     child.Depth,
				ParentURL: child.ParentURL,
			})
		} else {
			e.stats.URLsFiltered.Add(1)
		}
	}
}

// handleFetchError classifies the failure, records it against domain
// performance and stats, and either schedules a backed-off retry or gives
// up and publishes a terminal CrawlErrorEvent.
func (e *Engine) handleFetchError(log *slog.Logger, req *types.Request, host string, latency time.Duration, err error) {
	e.scheduler.RecordDomainPerformance(host, latency, false)
	e.stats.recordDomain(host, false)
	e.stats.ResponsesError.Add(1)
	e.stats.RequestsFailed.Add(1)
	e.metrics.RequestsFailed.Add(1)

	var ferr *types.FetchError
	kind := types.ErrorKindNetwork
	retryable := true
	if errors.As(err, &ferr) {
		kind = ferr.Kind
		retryable = ferr.Retryable
	}
	switch kind {
	case types.ErrorKindRobotsDisallowed:
		e.metrics.RobotsDisallowed.Add(1)
	case types.ErrorKindAntiBot:
		e.metrics.AntiBotDetections.Add(1)
	}

	if retryable && req.RetryCount < req.MaxRetries {
		req.RetryCount++
		delay := e.computeBackoff(req.RetryCount, ferr)
		log.Debug("scheduling retry", "url", req.URLString(), "attempt", req.RetryCount, "delay", delay, "kind", kind)
		e.metrics.RequestsRetried.Add(1)
		e.scheduleRetry(req, delay)
		return
	}

	e.scheduler.MarkErrored()
	log.Warn("request failed terminally", "url", req.URLString(), "kind", kind, "error", err)
	e.events.Publish(EventCrawlError, CrawlErrorEvent{Request: req, Kind: kind, Err: err})

	result := &types.CrawlResult{
		Request:       req,
		FetchErr:      err,
		ProcessedAt:   time.Now(),
		TotalDuration: time.Since(req.StartedAt),
	}
	e.persist(log, req, result)
}

// computeBackoff applies exponential backoff with jitter, honoring a
// Retry-After hint from a classified FetchError (e.g. HTTP 429) when
// present, and never exceeding RetryPolicy.MaxDelay.
func (e *Engine) computeBackoff(attempt int, ferr *types.FetchError) time.Duration {
	if ferr != nil && ferr.RetryAfter > 0 {
		return ferr.RetryAfter
	}

	policy := e.cfg.RetryPolicy
	backoff := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	if policy.MaxDelay > 0 && backoff > float64(policy.MaxDelay) {
		backoff = float64(policy.MaxDelay)
	}

	jitter := backoff * (0.8 + rand.Float64()*0.4) // ±20% of computed backoff
	if policy.MaxDelay > 0 && jitter > float64(policy.MaxDelay) {
		jitter = float64(policy.MaxDelay)
	}
	return time.Duration(jitter)
}

// scheduleRetry re-submits req to the scheduler after delay without
// blocking the calling worker goroutine. The wait races the delay against
// the engine's cancellation signal so a forced Stop doesn't have to wait out
// a long backoff before its drain group can close.
func (e *Engine) scheduleRetry(req *types.Request, delay time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			e.scheduler.AddRetry(req)
		case <-e.ctx.Done():
		}
	}()
}

// persist writes one CrawlResult plus its UrlState row to the storage
// backend, if configured. Storage errors are logged and counted, never
// fatal to the crawl.
func (e *Engine) persist(log *slog.Logger, req *types.Request, result *types.CrawlResult) {
	e.mu.RLock()
	store := e.storage
	jobID := e.jobID
	e.mu.RUnlock()
	if store == nil {
		return
	}

	if err := store.SaveResult(jobID, result); err != nil {
		log.Error("storage save_result failed", "url", req.URLString(), "error", err)
		e.events.Publish(EventCrawlError, CrawlErrorEvent{Request: req, Kind: types.ErrorKindStorageError, Err: err})
	} else {
		e.metrics.ItemsStored.Add(1)
	}

	state := &storage.UrlState{
		URL:          req.URLString(),
		DiscoveredAt: req.CreatedAt,
		ProcessedAt:  result.ProcessedAt,
		RetryCount:   req.RetryCount,
	}
	if result.Response != nil {
		state.StatusCode = result.Response.StatusCode
		state.ContentLength = result.Response.ContentLength
		state.ContentType = result.Response.ContentType
		state.DownloadTime = result.Response.FetchDuration
	}
	if result.FetchErr != nil {
		state.ErrorMessage = result.FetchErr.Error()
	}

	if err := store.SaveUrlState(jobID, state); err != nil {
		log.Error("storage save_url_state failed", "url", req.URLString(), "error", err)
	}
}
