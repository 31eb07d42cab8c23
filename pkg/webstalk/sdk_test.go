package webstalk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crawlkit/webstalk/internal/engine"
	"github.com/crawlkit/webstalk/internal/types"
)

// End-to-end: a two-page site crawled through the public Crawler API yields
// one OnResult callback per page and no OnError callbacks.
func TestCrawlerEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><a href="/about">about</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>About</title></head><body>no links here</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	outDir := t.TempDir()
	crawler, err := NewCrawler(
		WithConcurrency(2),
		WithMaxDepth(3),
		WithDelay(0),
		WithRobotsRespect(false),
		WithOutput("jsonl", outDir),
	)
	if err != nil {
		t.Fatalf("NewCrawler: %v", err)
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	var errCount atomic.Int64
	done := make(chan struct{})

	crawler.OnResult(func(r *types.CrawlResult) {
		mu.Lock()
		seen[r.Request.URLString()] = true
		n := len(seen)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	})
	crawler.OnError(func(ev *engine.CrawlErrorEvent) {
		errCount.Add(1)
	})

	if err := crawler.Start(context.Background(), srv.URL+"/"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for both pages")
	}

	crawler.Stop()

	mu.Lock()
	defer mu.Unlock()
	if !seen[srv.URL+"/"] || !seen[srv.URL+"/about"] {
		t.Fatalf("expected both pages crawled, got %v", seen)
	}
	if errCount.Load() != 0 {
		t.Errorf("expected no errors, got %d", errCount.Load())
	}
}

// Starting with no valid seeds reports an error instead of silently hanging.
func TestCrawlerAllSeedsFiltered(t *testing.T) {
	crawler, err := NewCrawler(WithOutput("jsonl", t.TempDir()))
	if err != nil {
		t.Fatalf("NewCrawler: %v", err)
	}

	if err := crawler.Start(context.Background(), "not a valid url"); err == nil {
		t.Fatal("expected error when all seeds are filtered")
	}
}
