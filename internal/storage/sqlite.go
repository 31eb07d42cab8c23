package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crawlkit/webstalk/internal/types"
)

// SQLiteStorage is the relational option for single-machine deployments: a
// natural alternative to MongoStorage when the operator doesn't want a
// separate database server. It keeps the same three logical tables as one
// SQLite file.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS crawl_results (
	job_id       TEXT NOT NULL,
	url          TEXT NOT NULL,
	depth        INTEGER,
	status_code  INTEGER,
	content_type TEXT,
	title        TEXT,
	links        INTEGER,
	success      INTEGER,
	error        TEXT,
	processed_at TEXT,
	duration_ms  INTEGER,
	PRIMARY KEY (job_id, url)
);
CREATE TABLE IF NOT EXISTS url_states (
	job_id         TEXT NOT NULL,
	url            TEXT NOT NULL,
	discovered_at  TEXT,
	processed_at   TEXT,
	status_code    INTEGER,
	content_length INTEGER,
	content_type   TEXT,
	download_ms    INTEGER,
	error          TEXT,
	retry_count    INTEGER,
	PRIMARY KEY (job_id, url)
);
CREATE TABLE IF NOT EXISTS crawl_state (
	job_id      TEXT PRIMARY KEY,
	started_at  TEXT,
	ended_at    TEXT,
	discovered  INTEGER,
	processed   INTEGER,
	success     INTEGER,
	error       INTEGER,
	skipped     INTEGER,
	avg_download_ms INTEGER,
	total_bytes INTEGER,
	domains_json TEXT
);
`

// NewSQLiteStorage opens (creating if needed) a SQLite database at dsn and
// ensures its schema exists.
func NewSQLiteStorage(dsn string, logger *slog.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		logger: logger.With("component", "sqlite_storage"),
	}, nil
}

func (s *SQLiteStorage) Name() string { return "sqlite" }

func (s *SQLiteStorage) SaveResult(jobID string, result *types.CrawlResult) error {
	rec := flattenResult(jobID, result)
	_, err := s.db.Exec(`
		INSERT INTO crawl_results (job_id, url, depth, status_code, content_type, title, links, success, error, processed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, url) DO UPDATE SET
			depth=excluded.depth, status_code=excluded.status_code, content_type=excluded.content_type,
			title=excluded.title, links=excluded.links, success=excluded.success, error=excluded.error,
			processed_at=excluded.processed_at, duration_ms=excluded.duration_ms
	`, rec.JobID, rec.URL, rec.Depth, rec.StatusCode, rec.ContentType, rec.Title, rec.Links, rec.Success, rec.Error, rec.ProcessedAt, rec.DurationMS)
	if err != nil {
		return fmt.Errorf("sqlite save result: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SaveUrlState(jobID string, state *UrlState) error {
	var processedAt *string
	if !state.ProcessedAt.IsZero() {
		v := state.ProcessedAt.Format(time.RFC3339Nano)
		processedAt = &v
	}

	_, err := s.db.Exec(`
		INSERT INTO url_states (job_id, url, discovered_at, processed_at, status_code, content_length, content_type, download_ms, error, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, url) DO UPDATE SET
			processed_at=excluded.processed_at, status_code=excluded.status_code, content_length=excluded.content_length,
			content_type=excluded.content_type, download_ms=excluded.download_ms, error=excluded.error,
			retry_count=excluded.retry_count
	`, jobID, state.URL, state.DiscoveredAt.Format(time.RFC3339Nano), processedAt, state.StatusCode,
		state.ContentLength, state.ContentType, state.DownloadTime.Milliseconds(), state.ErrorMessage, state.RetryCount)
	if err != nil {
		return fmt.Errorf("sqlite save url state: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) LoadCrawlState(jobID string) (*CrawlState, error) {
	row := s.db.QueryRow(`
		SELECT job_id, started_at, ended_at, discovered, processed, success, error, skipped, avg_download_ms, total_bytes, domains_json
		FROM crawl_state WHERE job_id = ?
	`, jobID)

	var cs CrawlState
	var startedAt, endedAt string
	var avgMS int64
	var domainsJSON string
	err := row.Scan(&cs.JobID, &startedAt, &endedAt, &cs.Discovered, &cs.Processed, &cs.Success,
		&cs.Error, &cs.Skipped, &avgMS, &cs.TotalBytes, &domainsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load crawl state: %w", err)
	}

	cs.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	cs.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt)
	cs.AvgDownloadTime = time.Duration(avgMS) * time.Millisecond
	if domainsJSON != "" {
		cs.Domains = make(map[string]*types.DomainStats)
		if err := json.Unmarshal([]byte(domainsJSON), &cs.Domains); err != nil {
			return nil, fmt.Errorf("sqlite decode domains: %w", err)
		}
	}
	return &cs, nil
}

func (s *SQLiteStorage) SaveCrawlState(state *CrawlState) error {
	domainsJSON, err := json.Marshal(state.Domains)
	if err != nil {
		return fmt.Errorf("sqlite encode domains: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO crawl_state (job_id, started_at, ended_at, discovered, processed, success, error, skipped, avg_download_ms, total_bytes, domains_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			ended_at=excluded.ended_at, discovered=excluded.discovered, processed=excluded.processed,
			success=excluded.success, error=excluded.error, skipped=excluded.skipped,
			avg_download_ms=excluded.avg_download_ms, total_bytes=excluded.total_bytes, domains_json=excluded.domains_json
	`, state.JobID, state.StartedAt.Format(time.RFC3339Nano), state.EndedAt.Format(time.RFC3339Nano),
		state.Discovered, state.Processed, state.Success, state.Error, state.Skipped,
		state.AvgDownloadTime.Milliseconds(), state.TotalBytes, string(domainsJSON))
	if err != nil {
		return fmt.Errorf("sqlite save crawl state: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	s.logger.Info("sqlite storage closing")
	return s.db.Close()
}
