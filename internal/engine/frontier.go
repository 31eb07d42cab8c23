package engine

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/crawlkit/webstalk/internal/types"
)

// Frontier is a thread-safe priority queue of crawl requests.
type Frontier struct {
	mu       sync.Mutex
	pq       priorityQueue
	cond     *sync.Cond
	closed   bool
	notEmpty chan struct{}

	// maxSize caps how many requests the frontier holds at once. 0 means
	// unbounded. Once full, an incoming push only succeeds by displacing
	// the current worst (highest effective-priority-value) entry, and
	// only if the incoming request is itself better than that entry.
	maxSize int
}

// NewFrontier creates a new Frontier. maxSize <= 0 means unbounded.
func NewFrontier(maxSize int) *Frontier {
	f := &Frontier{
		pq:       make(priorityQueue, 0, 1024),
		notEmpty: make(chan struct{}, 1),
		maxSize:  maxSize,
	}
	f.cond = sync.NewCond(&f.mu)
	heap.Init(&f.pq)
	return f
}

// Push adds a request to the frontier, keyed by its own Priority field.
func (f *Frontier) Push(req *types.Request) bool {
	return f.PushPriority(req, req.Priority)
}

// PushPriority adds req to the frontier keyed by an explicitly computed
// priority, without touching req.Priority. The Scheduler uses this so a
// request's caller-assigned base priority survives repeated re-enqueuing
// (retries, throttle skips) instead of accumulating depth/slowdown
// penalties on every pass through the heap.
//
// When the frontier is at maxSize, PushPriority makes room by evicting the
// single worst-ranked (highest priority value) queued entry, but only if
// the incoming request outranks it; otherwise the incoming request itself
// is rejected. PushPriority reports whether req was admitted.
func (f *Frontier) PushPriority(req *types.Request, priority int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}

	if f.maxSize > 0 && f.pq.Len() >= f.maxSize {
		worst := f.pq.worstIndex()
		if f.pq[worst].priority <= priority {
			return false
		}
		heap.Remove(&f.pq, worst)
	}

	heap.Push(&f.pq, &pqItem{request: req, priority: priority})
	f.cond.Signal()
	return true
}

// Pop removes and returns the highest-priority request.
// Blocks until a request is available or the frontier is closed.
// Returns nil if the frontier is closed and empty.
func (f *Frontier) Pop(ctx context.Context) *types.Request {
	for {
		f.mu.Lock()
		if f.pq.Len() > 0 {
			item := heap.Pop(&f.pq).(*pqItem)
			f.mu.Unlock()
			return item.request
		}
		if f.closed {
			f.mu.Unlock()
			return nil
		}
		f.mu.Unlock()

		// Poll with context support — no goroutine leak
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(50 * time.Millisecond):
			// Re-check on next iteration
		}
	}
}

// TryPop attempts a non-blocking dequeue. Returns nil if empty.
func (f *Frontier) TryPop() *types.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pq.Len() == 0 {
		return nil
	}

	item := heap.Pop(&f.pq).(*pqItem)
	return item.request
}

// Len returns the number of requests in the frontier.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pq.Len()
}

// IsEmpty returns true if the frontier is empty.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// Close closes the frontier, unblocking any waiting Pop calls.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

// IsClosed returns true if the frontier has been closed.
func (f *Frontier) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Snapshot returns a copy of all queued requests without removing them.
// Safe for use during checkpointing while the crawl is running.
func (f *Frontier) Snapshot() []*types.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	requests := make([]*types.Request, f.pq.Len())
	for i, item := range f.pq {
		requests[i] = item.request
	}
	return requests
}

// Drain returns all remaining requests, removing them from the queue.
func (f *Frontier) Drain() []*types.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	requests := make([]*types.Request, 0, f.pq.Len())
	for f.pq.Len() > 0 {
		item := heap.Pop(&f.pq).(*pqItem)
		requests = append(requests, item.request)
	}
	return requests
}

// RestoreAll adds multiple requests back (for checkpoint restore), subject
// to the same maxSize eviction rule as PushPriority.
func (f *Frontier) RestoreAll(reqs []*types.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, req := range reqs {
		if f.maxSize > 0 && f.pq.Len() >= f.maxSize {
			worst := f.pq.worstIndex()
			if f.pq[worst].priority <= req.Priority {
				continue
			}
			heap.Remove(&f.pq, worst)
		}
		heap.Push(&f.pq, &pqItem{request: req, priority: req.Priority})
	}
	f.cond.Broadcast()
}

// --- Priority Queue Implementation ---

type pqItem struct {
	request  *types.Request
	priority int
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

// worstIndex returns the index of the lowest-ranked (highest priority
// value) entry. Heap order only guarantees the minimum is at index 0, so
// finding the maximum is a linear scan; the frontier only pays this cost
// when it is already at capacity.
func (pq priorityQueue) worstIndex() int {
	worst := 0
	for i := 1; i < len(pq); i++ {
		if pq[i].priority > pq[worst].priority {
			worst = i
		}
	}
	return worst
}

func (pq priorityQueue) Less(i, j int) bool {
	// Lower priority value = higher priority
	return pq[i].priority < pq[j].priority
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // GC
	item.index = -1
	*pq = old[:n-1]
	return item
}
