package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics is the crawl's live instrument panel: the counters are updated
// inline by the worker loop as requests move through fetch, parse and
// persist (the ActiveWorkers and QueueDepth gauges are not updated by the
// engine and stay at zero unless a caller sets them), and all are
// exposed for scraping without any third-party client
// library (see DESIGN.md for why the hand-rolled exposition format is
// preferred over pulling in a Prometheus SDK for this).
type Metrics struct {
	RequestsTotal   atomic.Int64
	RequestsFailed  atomic.Int64
	RequestsRetried atomic.Int64

	ResponsesTotal atomic.Int64
	Responses2xx   atomic.Int64
	Responses3xx   atomic.Int64
	Responses4xx   atomic.Int64
	Responses5xx   atomic.Int64

	ItemsScraped atomic.Int64
	ItemsDropped atomic.Int64
	ItemsStored  atomic.Int64

	// RobotsDisallowed counts requests a robots.txt Disallow rule kept
	// from ever reaching the network.
	RobotsDisallowed atomic.Int64
	// AntiBotDetections counts responses classified as a challenge page
	// (CAPTCHA wall, bot-check interstitial) rather than real content.
	AntiBotDetections atomic.Int64

	// ActiveWorkers and QueueDepth are gauges, not counters: they can
	// fall as well as rise over the life of a crawl.
	ActiveWorkers   atomic.Int32
	QueueDepth      atomic.Int64
	BytesDownloaded atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates an empty instrument panel bound to logger for its own
// diagnostics (e.g. metrics server startup failures).
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

type exposition struct {
	name  string
	help  string
	kind  string // "counter" or "gauge"
	value int64
}

func (m *Metrics) series() []exposition {
	return []exposition{
		{"crawlkit_requests_total", "Total fetch attempts issued", "counter", m.RequestsTotal.Load()},
		{"crawlkit_requests_failed_total", "Fetch attempts that returned an error, including retried ones", "counter", m.RequestsFailed.Load()},
		{"crawlkit_requests_retried_total", "Fetch attempts scheduled for retry", "counter", m.RequestsRetried.Load()},
		{"crawlkit_responses_total", "Responses received from the origin", "counter", m.ResponsesTotal.Load()},
		{"crawlkit_responses_2xx_total", "Successful (2xx) responses", "counter", m.Responses2xx.Load()},
		{"crawlkit_responses_3xx_total", "Redirect (3xx) responses", "counter", m.Responses3xx.Load()},
		{"crawlkit_responses_4xx_total", "Client error (4xx) responses", "counter", m.Responses4xx.Load()},
		{"crawlkit_responses_5xx_total", "Server error (5xx) responses", "counter", m.Responses5xx.Load()},
		{"crawlkit_items_scraped_total", "Pages successfully parsed into a result", "counter", m.ItemsScraped.Load()},
		{"crawlkit_items_dropped_total", "Pages that failed to parse and were discarded", "counter", m.ItemsDropped.Load()},
		{"crawlkit_items_stored_total", "Results successfully written to the storage backend", "counter", m.ItemsStored.Load()},
		{"crawlkit_robots_disallowed_total", "Requests blocked by a robots.txt Disallow rule", "counter", m.RobotsDisallowed.Load()},
		{"crawlkit_anti_bot_detections_total", "Responses classified as a bot-challenge page", "counter", m.AntiBotDetections.Load()},
		{"crawlkit_active_workers", "Worker goroutines currently processing a request", "gauge", int64(m.ActiveWorkers.Load())},
		{"crawlkit_queue_depth", "Requests currently waiting in the frontier", "gauge", m.QueueDepth.Load()},
		{"crawlkit_bytes_downloaded_total", "Bytes read from response bodies", "counter", m.BytesDownloaded.Load()},
	}
}

// ServeHTTP renders the current counters in Prometheus text exposition
// format so a scrape can pull them without any client library.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	for _, s := range m.series() {
		fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
		fmt.Fprintf(w, "%s %d\n", s.name, s.value)
	}
}

// StartServer runs a metrics+health endpoint in the background. It returns
// immediately; a bind failure is logged rather than propagated, since by
// the time a caller notices the crawl itself is already underway.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server stopped", "error", err)
		}
	}()

	return nil
}

// Snapshot returns every counter as a plain map, for embedding in JSON
// status output where a Prometheus scrape isn't convenient.
func (m *Metrics) Snapshot() map[string]int64 {
	snap := make(map[string]int64, len(m.series()))
	for _, s := range m.series() {
		snap[s.name] = s.value
	}
	return snap
}
