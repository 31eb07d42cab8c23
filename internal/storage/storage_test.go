package storage

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crawlkit/webstalk/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResult(url string, status int) *types.CrawlResult {
	req, _ := types.NewRequest(url)
	resp := &types.Response{StatusCode: status, ContentType: "text/html"}
	return &types.CrawlResult{
		Request:     req,
		Response:    resp,
		Parse:       types.NewParseResult(url),
		ProcessedAt: time.Now(),
	}
}

// SaveCrawlState followed by LoadCrawlState round-trips the same job id,
// and an unknown job id reports no prior state without an error.
func TestJSONStorageCrawlStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewJSONStorage(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	defer st.Close()

	state := &CrawlState{JobID: "job-1", Processed: 5, Success: 4, Error: 1}
	if err := st.SaveCrawlState(state); err != nil {
		t.Fatalf("SaveCrawlState: %v", err)
	}

	got, err := st.LoadCrawlState("job-1")
	if err != nil {
		t.Fatalf("LoadCrawlState: %v", err)
	}
	if got == nil || got.Processed != 5 || got.Success != 4 {
		t.Fatalf("expected round-tripped state, got %+v", got)
	}

	miss, err := st.LoadCrawlState("nonexistent")
	if err != nil {
		t.Fatalf("LoadCrawlState(miss): %v", err)
	}
	if miss != nil {
		t.Fatalf("expected nil for unknown job id, got %+v", miss)
	}
}

// SaveResult is idempotent: calling it twice for the same (jobID, URL) does
// not error, and results.json holds a single record for that pair.
func TestJSONStorageSaveResultAndClose(t *testing.T) {
	dir := t.TempDir()
	st, err := NewJSONStorage(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := st.SaveResult("job-1", sampleResult("https://example.com/a", 200)); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	if err := st.SaveUrlState("job-1", &UrlState{URL: "https://example.com/a", StatusCode: 200}); err != nil {
		t.Fatalf("SaveUrlState: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "results.json"))
	if err != nil {
		t.Fatalf("read results.json: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("unmarshal results.json: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 result record, got %d", len(records))
	}
}

// JSONL storage streams each SaveResult/SaveUrlState call as one line and
// preserves the crawl-state round trip like the JSON backend.
func TestJSONLStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewJSONLStorage(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewJSONLStorage: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := st.SaveResult("job-1", sampleResult("https://example.com/p", 200)); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	if err := st.SaveCrawlState(&CrawlState{JobID: "job-1", Processed: 3}); err != nil {
		t.Fatalf("SaveCrawlState: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "results.jsonl"))
	if err != nil {
		t.Fatalf("read results.jsonl: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 3 {
		t.Fatalf("expected 3 jsonl lines, got %d", lines)
	}

	reopened, err := NewJSONLStorage(dir, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.LoadCrawlState("job-1")
	if err != nil {
		t.Fatalf("LoadCrawlState: %v", err)
	}
	if got == nil || got.Processed != 3 {
		t.Fatalf("expected persisted crawl state, got %+v", got)
	}
}

// MultiStorage fans SaveResult out to every backend and surfaces the first
// error encountered while still attempting the rest.
func TestMultiStorageFanOut(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	a, err := NewJSONStorage(dirA, discardLogger())
	if err != nil {
		t.Fatalf("NewJSONStorage a: %v", err)
	}
	b, err := NewJSONLStorage(dirB, discardLogger())
	if err != nil {
		t.Fatalf("NewJSONLStorage b: %v", err)
	}

	multi := NewMultiStorage([]Storage{a, b}, discardLogger())
	if multi.Name() != "multi" {
		t.Fatalf("expected Name()=multi, got %s", multi.Name())
	}

	if err := multi.SaveResult("job-1", sampleResult("https://example.com/x", 200)); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dirA, "results.json")); err != nil {
		t.Errorf("expected backend A to receive the write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dirB, "results.jsonl")); err != nil {
		t.Errorf("expected backend B to receive the write: %v", err)
	}
}
