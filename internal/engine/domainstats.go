package engine

import (
	"sync"
	"time"
)

// DepthPenalty is the per-level priority cost applied to discovered links;
// domain slowdown is expressed and clamped in multiples of it so no single
// penalty source can dominate scheduling order.
const DepthPenalty = 10

// domainPerf is one host's exponentially-weighted view of recent fetch
// performance.
type domainPerf struct {
	avgLatencyMs float64
	successRate  float64
	samples      int
}

// DomainPerformanceTracker maintains a per-host EWMA of fetch latency and
// success rate, feeding the scheduler's effective-priority penalty so
// consistently slow or failing hosts sink in the queue without starving
// fast ones.
type DomainPerformanceTracker struct {
	mu    sync.Mutex
	stats map[string]*domainPerf

	// alpha is the EWMA smoothing factor: higher weighs recent samples more.
	alpha float64
}

// NewDomainPerformanceTracker creates a tracker with a sensible smoothing
// factor (alpha=0.3, so a sample's weight halves after about 2 newer
// samples).
func NewDomainPerformanceTracker() *DomainPerformanceTracker {
	return &DomainPerformanceTracker{
		stats: make(map[string]*domainPerf),
		alpha: 0.3,
	}
}

// Record folds one fetch outcome into the host's running EWMA.
func (t *DomainPerformanceTracker) Record(host string, latency time.Duration, success bool) {
	latencyMs := float64(latency.Milliseconds())
	successVal := 0.0
	if success {
		successVal = 1.0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.stats[host]
	if !ok {
		t.stats[host] = &domainPerf{avgLatencyMs: latencyMs, successRate: successVal, samples: 1}
		return
	}
	p.avgLatencyMs = t.alpha*latencyMs + (1-t.alpha)*p.avgLatencyMs
	p.successRate = t.alpha*successVal + (1-t.alpha)*p.successRate
	p.samples++
}

// Slowdown returns the effective-priority penalty for host: monotonically
// increasing in latency and decreasing in success rate, clamped to
// [-DepthPenalty, 3*DepthPenalty] so it nudges ordering instead of
// overriding it.
func (t *DomainPerformanceTracker) Slowdown(host string) int {
	t.mu.Lock()
	p, ok := t.stats[host]
	t.mu.Unlock()
	if !ok || p.samples < 2 {
		return 0
	}

	// One penalty point per 500ms of average latency, plus up to 2*DepthPenalty
	// for a host that fails more often than it succeeds.
	latencyPenalty := int(p.avgLatencyMs / 500)
	failurePenalty := int((1 - p.successRate) * float64(2*DepthPenalty))

	penalty := latencyPenalty + failurePenalty
	if penalty < -DepthPenalty {
		return -DepthPenalty
	}
	if penalty > 3*DepthPenalty {
		return 3 * DepthPenalty
	}
	return penalty
}
