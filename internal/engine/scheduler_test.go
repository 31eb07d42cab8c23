package engine

import (
	"context"
	"testing"
	"time"

	"github.com/crawlkit/webstalk/internal/config"
)

func schedulerWith(t *testing.T, mutate func(*config.Config)) *Scheduler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.PolitenessDelay = 0
	cfg.Fetcher.RequestsPerSecond = 0
	if mutate != nil {
		mutate(cfg)
	}
	return NewScheduler(cfg, testLogger())
}

// At-most-once enqueue: duplicate Adds for the same canonical URL only
// succeed once, and QueuedCount reflects only accepted requests.
func TestSchedulerAtMostOnceEnqueue(t *testing.T) {
	s := schedulerWith(t, nil)

	r1 := mustRequest(t, "https://Example.com/a?b=1&a=2")
	r2 := mustRequest(t, "https://example.com/a?a=2&b=1#frag")

	if !s.Add(r1) {
		t.Fatal("expected first Add to succeed")
	}
	if s.Add(r2) {
		t.Fatal("expected duplicate canonical URL to be rejected")
	}
	if s.QueuedCount() != 1 {
		t.Fatalf("expected QueuedCount=1, got %d", s.QueuedCount())
	}
}

// Priority ordering: requests enqueued with ascending effective priorities
// pop in the same ascending order.
func TestSchedulerPriorityOrdering(t *testing.T) {
	s := schedulerWith(t, nil)
	ctx := context.Background()

	r1 := mustRequest(t, "https://a.example.com/")
	r1.Priority = 1
	r2 := mustRequest(t, "https://b.example.com/")
	r2.Priority = 2
	r3 := mustRequest(t, "https://c.example.com/")
	r3.Priority = 3

	s.Add(r1)
	s.Add(r2)
	s.Add(r3)

	first := s.Next(ctx)
	second := s.Next(ctx)
	third := s.Next(ctx)

	if first == nil || second == nil || third == nil {
		t.Fatal("expected three non-nil requests")
	}
	if first.URLString() != r1.URLString() {
		t.Errorf("expected %s first, got %s", r1.URLString(), first.URLString())
	}
	if second.URLString() != r2.URLString() {
		t.Errorf("expected %s second, got %s", r2.URLString(), second.URLString())
	}
	if third.URLString() != r3.URLString() {
		t.Errorf("expected %s third, got %s", r3.URLString(), third.URLString())
	}
}

// Depth penalty: a deep, low-priority-number request sinks below a
// shallow request with a higher priority number once DepthPenalty is
// applied.
func TestSchedulerDepthPenalty(t *testing.T) {
	s := schedulerWith(t, nil)
	ctx := context.Background()

	deep := mustRequest(t, "https://deep.example.com/")
	deep.Depth = 2
	deep.Priority = 10

	shallow := mustRequest(t, "https://shallow.example.com/")
	shallow.Depth = 0
	shallow.Priority = 5

	// effective(deep) = 10 + 2*DepthPenalty, effective(shallow) = 5
	if s.effectivePriority(deep) <= s.effectivePriority(shallow) {
		t.Fatalf("expected deep effective priority > shallow, got deep=%d shallow=%d",
			s.effectivePriority(deep), s.effectivePriority(shallow))
	}

	s.Add(deep)
	s.Add(shallow)

	first := s.Next(ctx)
	if first == nil || first.URLString() != shallow.URLString() {
		t.Fatalf("expected shallow request to pop first")
	}
}

// Per-domain delay: two Next() calls for the same host within
// PolitenessDelay must not both succeed; the second is deferred until
// the delay elapses.
func TestSchedulerPerDomainDelay(t *testing.T) {
	s := schedulerWith(t, func(c *config.Config) {
		c.Engine.PolitenessDelay = 200 * time.Millisecond
	})
	ctx := context.Background()

	r1 := mustRequest(t, "https://same-host.example.com/a")
	r2 := mustRequest(t, "https://same-host.example.com/b")
	s.Add(r1)
	s.Add(r2)

	first := s.Next(ctx)
	if first == nil {
		t.Fatal("expected first Next to return a request")
	}

	// Immediately asking again should not return the second request yet,
	// since it shares a host with the just-served request and is still
	// within the politeness window. Next will eventually time out its
	// skip budget and return nil rather than block forever.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	second := s.Next(shortCtx)
	if second != nil {
		t.Fatalf("expected second same-host request to be deferred, got %v", second.URLString())
	}

	time.Sleep(220 * time.Millisecond)
	third := s.Next(ctx)
	if third == nil {
		t.Fatal("expected request to become available after politeness delay elapses")
	}
}

type fixedRobotsDelay time.Duration

func (d fixedRobotsDelay) RobotsCrawlDelay(rawURL string) time.Duration { return time.Duration(d) }

// A robots.txt Crawl-delay directive longer than PolitenessDelay stretches
// the per-host gap; one shorter than PolitenessDelay never shrinks it.
func TestSchedulerRobotsCrawlDelayStretchesPoliteness(t *testing.T) {
	s := schedulerWith(t, func(c *config.Config) {
		c.Engine.PolitenessDelay = 50 * time.Millisecond
	})
	s.SetCrawlDelaySource(fixedRobotsDelay(300 * time.Millisecond))
	ctx := context.Background()

	r1 := mustRequest(t, "https://slow-host.example.com/a")
	r2 := mustRequest(t, "https://slow-host.example.com/b")
	s.Add(r1)
	s.Add(r2)

	if first := s.Next(ctx); first == nil {
		t.Fatal("expected first Next to return a request")
	}

	shortCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	if second := s.Next(shortCtx); second != nil {
		t.Fatalf("expected robots Crawl-delay (300ms) to still be in effect after 150ms, got %v", second.URLString())
	}
}

// Queue overflow: once the frontier is at MaxQueueSize, a new request only
// gets in by outranking the worst entry currently queued, which is then
// evicted; a request no better than the current worst is rejected outright.
func TestSchedulerMaxQueueSizeEvictsWorstFirst(t *testing.T) {
	s := schedulerWith(t, func(c *config.Config) {
		c.Engine.MaxQueueSize = 2
	})
	ctx := context.Background()

	low := mustRequest(t, "https://low.example.com/")
	low.Priority = 10
	mid := mustRequest(t, "https://mid.example.com/")
	mid.Priority = 5

	if !s.Add(low) {
		t.Fatal("expected first Add to succeed")
	}
	if !s.Add(mid) {
		t.Fatal("expected second Add to succeed (queue not yet full)")
	}

	worse := mustRequest(t, "https://worse.example.com/")
	worse.Priority = 20
	if s.Add(worse) {
		t.Fatal("expected a lower-ranked request to be rejected once the queue is full")
	}

	better := mustRequest(t, "https://better.example.com/")
	better.Priority = 1
	if !s.Add(better) {
		t.Fatal("expected a higher-ranked request to evict the worst queued entry")
	}

	first := s.Next(ctx)
	second := s.Next(ctx)
	if first == nil || first.URLString() != better.URLString() {
		t.Fatalf("expected the evicting request to pop first, got %v", first)
	}
	if second == nil || second.URLString() != mid.URLString() {
		t.Fatalf("expected the mid-priority request to pop second, got %v", second)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if third := s.Next(shortCtx); third != nil {
		t.Fatalf("expected the evicted low-priority request to be gone, got %v", third)
	}
}

// AddRetry bypasses the seen-set so a previously-admitted URL can be
// re-queued after a retryable failure, without inflating QueuedCount
// beyond what the worker loop expects.
func TestSchedulerAddRetryBypassesDedup(t *testing.T) {
	s := schedulerWith(t, nil)

	r := mustRequest(t, "https://retry.example.com/")
	if !s.Add(r) {
		t.Fatal("expected initial Add to succeed")
	}
	if s.Add(r) {
		t.Fatal("expected second plain Add of the same URL to be rejected")
	}

	r.RetryCount++
	if !s.AddRetry(r) {
		t.Fatal("expected AddRetry to succeed despite seen-set entry")
	}
	if s.QueuedCount() != 2 {
		t.Fatalf("expected QueuedCount=2 after retry re-admission, got %d", s.QueuedCount())
	}
}
