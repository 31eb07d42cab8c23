package engine

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.PolitenessDelay = 0
	cfg.Fetcher.RequestsPerSecond = 0
	return NewScheduler(cfg, testLogger())
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	sched := newTestScheduler(t)
	sched.Add(mustRequest(t, "https://example.com/a"))
	sched.Add(mustRequest(t, "https://example.com/b"))
	stats := &Stats{domainStats: make(map[string]*DomainStats)}
	stats.ItemsScraped.Store(7)
	stats.URLsEnqueued.Store(2)

	cm := NewCheckpointManager(0)
	if cm.HasCheckpoint() {
		t.Fatal("expected no checkpoint before Save")
	}
	if err := cm.Save(sched, stats); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !cm.HasCheckpoint() {
		t.Fatal("expected checkpoint to exist after Save")
	}
	if _, err := os.Stat(filepath.Join(dir, ".webstalk_checkpoints", "checkpoint.json")); err != nil {
		t.Fatalf("checkpoint file missing: %v", err)
	}

	restored := newTestScheduler(t)
	restoredStats := &Stats{domainStats: make(map[string]*DomainStats)}
	if err := cm.Load(restored, restoredStats); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := restored.Len(); got != 2 {
		t.Fatalf("expected 2 restored requests, got %d", got)
	}
	if got := restoredStats.ItemsScraped.Load(); got != 7 {
		t.Fatalf("expected restored ItemsScraped 7, got %d", got)
	}

	// A re-Add of an already-seen URL must be rejected: ImportSeen carried
	// the dedup hashes across, not just the frontier contents.
	if restored.Add(mustRequest(t, "https://example.com/a")) {
		t.Fatal("expected restored seen-set to reject an already-checkpointed URL")
	}

	if err := cm.Clean(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if cm.HasCheckpoint() {
		t.Fatal("expected checkpoint removed after Clean")
	}
}

func TestCheckpointLoadMissingIsNoop(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cm := NewCheckpointManager(0)
	sched := newTestScheduler(t)
	stats := &Stats{domainStats: make(map[string]*DomainStats)}
	if err := cm.Load(sched, stats); err != nil {
		t.Fatalf("expected nil error loading absent checkpoint, got %v", err)
	}
	if sched.Len() != 0 {
		t.Fatalf("expected untouched scheduler, got %d queued", sched.Len())
	}
}

func mustRequest(t *testing.T, raw string) *types.Request {
	t.Helper()
	req, err := types.NewRequest(raw)
	if err != nil {
		t.Fatalf("NewRequest(%q): %v", raw, err)
	}
	return req
}
