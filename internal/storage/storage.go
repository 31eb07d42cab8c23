package storage

import (
	"time"

	"github.com/crawlkit/webstalk/internal/types"
)

// UrlState is the persisted per-URL record: one row per URL per job,
// upserted as the crawl progresses so a resumed job can tell what it
// already touched.
type UrlState struct {
	URL           string
	DiscoveredAt  time.Time
	ProcessedAt   time.Time
	StatusCode    int
	ContentLength int64
	ContentType   string
	DownloadTime  time.Duration
	ErrorMessage  string
	RetryCount    int
}

// CrawlState is the singleton per-job checkpoint row: counters, timing and
// per-domain breakdown, enough to resume or report on a job without
// replaying its crawl_results.
type CrawlState struct {
	JobID           string `bson:"job_id"`
	StartedAt       time.Time
	EndedAt         time.Time
	Discovered      int64
	Processed       int64
	Success         int64
	Error           int64
	Skipped         int64
	AvgDownloadTime time.Duration
	TotalBytes      int64
	Domains         map[string]*types.DomainStats
}

// Storage is the persistence contract the engine requires of an external
// storage collaborator. Backends choose their own representation
// (filesystem tree, relational, key-value); the engine only ever calls
// these four operations plus Close.
type Storage interface {
	// SaveResult persists one request's full outcome. The JSON, SQLite and
	// Mongo backends are idempotent by (jobID, URL): saving the same pair
	// twice overwrites, never duplicates. The streaming JSONL and CSV
	// backends append one record per call, so repeated saves repeat rows.
	SaveResult(jobID string, result *types.CrawlResult) error

	// SaveUrlState upserts a UrlState row, keyed by URL, in the JSON, SQLite
	// and Mongo backends; the JSONL and CSV backends append one row per call.
	SaveUrlState(jobID string, state *UrlState) error

	// LoadCrawlState returns the checkpoint row for jobID, or nil, nil if
	// the backend has never seen that job.
	LoadCrawlState(jobID string) (*CrawlState, error)

	// SaveCrawlState upserts the singleton checkpoint row for state.JobID.
	SaveCrawlState(state *CrawlState) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}
