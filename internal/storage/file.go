package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/crawlkit/webstalk/internal/types"
)

// resultRecord is the flattened, JSON-friendly view of a types.CrawlResult
// that every file backend writes out.
type resultRecord struct {
	JobID       string `json:"job_id"`
	URL         string `json:"url"`
	Depth       int    `json:"depth"`
	StatusCode  int    `json:"status_code,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Links       int    `json:"links"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ProcessedAt string `json:"processed_at"`
	DurationMS  int64  `json:"duration_ms"`
}

func flattenResult(jobID string, r *types.CrawlResult) resultRecord {
	rec := resultRecord{
		JobID:       jobID,
		ProcessedAt: r.ProcessedAt.Format(time.RFC3339Nano),
		DurationMS:  r.TotalDuration.Milliseconds(),
	}
	if r.Request != nil {
		rec.URL = r.Request.URLString()
		rec.Depth = r.Request.Depth
	}
	if r.Response != nil {
		rec.StatusCode = r.Response.StatusCode
		rec.ContentType = r.Response.ContentType
	}
	if r.Parse != nil {
		rec.Title = r.Parse.Title
		rec.Links = len(r.Parse.Links)
	}
	rec.Success = r.Succeeded()
	if r.FetchErr != nil {
		rec.Error = r.FetchErr.Error()
	} else if r.Parse != nil && r.Parse.ErrorMessage != "" {
		rec.Error = r.Parse.ErrorMessage
	}
	return rec
}

func urlStateRecord(state *UrlState) map[string]any {
	m := map[string]any{
		"url":            state.URL,
		"discovered_at":  state.DiscoveredAt.Format(time.RFC3339Nano),
		"status_code":    state.StatusCode,
		"content_length": state.ContentLength,
		"content_type":   state.ContentType,
		"download_ms":    state.DownloadTime.Milliseconds(),
		"retry_count":    state.RetryCount,
	}
	if !state.ProcessedAt.IsZero() {
		m["processed_at"] = state.ProcessedAt.Format(time.RFC3339Nano)
	}
	if state.ErrorMessage != "" {
		m["error"] = state.ErrorMessage
	}
	return m
}

// --- JSON Storage ---

// JSONStorage buffers crawl results and URL states in memory, writing two
// JSON documents (results, url states) to outputDir on Close; the crawl
// state document is rewritten on every SaveCrawlState instead.
type JSONStorage struct {
	dir         string
	results     []resultRecord
	urlStates   map[string]*UrlState
	crawlStates map[string]*CrawlState
	mu          sync.Mutex
	logger      *slog.Logger
}

// NewJSONStorage creates a new JSON file storage rooted at outputDir.
func NewJSONStorage(outputDir string, logger *slog.Logger) (*JSONStorage, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &JSONStorage{
		dir:         outputDir,
		urlStates:   make(map[string]*UrlState),
		crawlStates: make(map[string]*CrawlState),
		logger:      logger.With("component", "json_storage"),
	}, nil
}

func (s *JSONStorage) Name() string { return "json" }

func (s *JSONStorage) SaveResult(jobID string, result *types.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := flattenResult(jobID, result)
	for i := range s.results {
		if s.results[i].JobID == rec.JobID && s.results[i].URL == rec.URL {
			s.results[i] = rec
			return nil
		}
	}
	s.results = append(s.results, rec)
	return nil
}

func (s *JSONStorage) SaveUrlState(jobID string, state *UrlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urlStates[state.URL] = state
	return nil
}

func (s *JSONStorage) LoadCrawlState(jobID string) (*CrawlState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.crawlStates[jobID]; ok {
		return cs, nil
	}
	return s.loadCrawlStateFile(jobID)
}

func (s *JSONStorage) loadCrawlStateFile(jobID string) (*CrawlState, error) {
	f, err := os.Open(filepath.Join(s.dir, "crawl_state.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open crawl state: %w", err)
	}
	defer f.Close()

	var cs CrawlState
	if err := json.NewDecoder(f).Decode(&cs); err != nil {
		return nil, fmt.Errorf("decode crawl state: %w", err)
	}
	if cs.JobID != jobID {
		return nil, nil
	}
	return &cs, nil
}

func (s *JSONStorage) SaveCrawlState(state *CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crawlStates[state.JobID] = state

	f, err := os.Create(filepath.Join(s.dir, "crawl_state.json"))
	if err != nil {
		return fmt.Errorf("create crawl state file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeJSON("results.json", s.results); err != nil {
		return err
	}

	states := make([]map[string]any, 0, len(s.urlStates))
	urls := make([]string, 0, len(s.urlStates))
	for u := range s.urlStates {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		states = append(states, urlStateRecord(s.urlStates[u]))
	}
	if err := s.writeJSON("url_states.json", states); err != nil {
		return err
	}

	s.logger.Info("json storage closed", "results", len(s.results), "url_states", len(s.urlStates))
	return nil
}

func (s *JSONStorage) writeJSON(name string, v any) error {
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- JSONL Storage ---

// JSONLStorage streams results and URL states as newline-delimited JSON,
// one object per line, so large crawls never buffer fully in memory.
type JSONLStorage struct {
	dir          string
	resultsFile  *os.File
	resultsEnc   *json.Encoder
	statesFile   *os.File
	statesEnc    *json.Encoder
	resultCount  int
	stateCount   int
	mu           sync.Mutex
	logger       *slog.Logger
}

// NewJSONLStorage creates a new JSONL file storage rooted at outputDir.
func NewJSONLStorage(outputDir string, logger *slog.Logger) (*JSONLStorage, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	resultsFile, err := os.Create(filepath.Join(outputDir, "results.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("create results file: %w", err)
	}
	statesFile, err := os.Create(filepath.Join(outputDir, "url_states.jsonl"))
	if err != nil {
		resultsFile.Close()
		return nil, fmt.Errorf("create url states file: %w", err)
	}

	return &JSONLStorage{
		dir:         outputDir,
		resultsFile: resultsFile,
		resultsEnc:  json.NewEncoder(resultsFile),
		statesFile:  statesFile,
		statesEnc:   json.NewEncoder(statesFile),
		logger:      logger.With("component", "jsonl_storage"),
	}, nil
}

func (s *JSONLStorage) Name() string { return "jsonl" }

func (s *JSONLStorage) SaveResult(jobID string, result *types.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resultsEnc.Encode(flattenResult(jobID, result)); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	s.resultCount++
	return nil
}

func (s *JSONLStorage) SaveUrlState(jobID string, state *UrlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.statesEnc.Encode(urlStateRecord(state)); err != nil {
		return fmt.Errorf("encode url state: %w", err)
	}
	s.stateCount++
	return nil
}

func (s *JSONLStorage) LoadCrawlState(jobID string) (*CrawlState, error) {
	f, err := os.Open(filepath.Join(s.dir, "crawl_state.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open crawl state: %w", err)
	}
	defer f.Close()

	var cs CrawlState
	if err := json.NewDecoder(f).Decode(&cs); err != nil {
		return nil, fmt.Errorf("decode crawl state: %w", err)
	}
	if cs.JobID != jobID {
		return nil, nil
	}
	return &cs, nil
}

func (s *JSONLStorage) SaveCrawlState(state *CrawlState) error {
	f, err := os.Create(filepath.Join(s.dir, "crawl_state.json"))
	if err != nil {
		return fmt.Errorf("create crawl state file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func (s *JSONLStorage) Close() error {
	s.logger.Info("jsonl storage closed", "results", s.resultCount, "url_states", s.stateCount)
	if err := s.resultsFile.Close(); err != nil {
		return err
	}
	return s.statesFile.Close()
}

// --- CSV Storage ---

// CSVStorage writes crawl results as CSV rows — a terminal export format
// with no meaningful resume support. SaveUrlState appends to a sibling CSV
// and LoadCrawlState always reports no prior state; SaveCrawlState falls
// back to a JSON checkpoint since a single summary row has no natural CSV
// shape.
type CSVStorage struct {
	dir        string
	file       *os.File
	writer     *csv.Writer
	headerDone bool
	count      int
	mu         sync.Mutex
	logger     *slog.Logger
}

var resultCSVHeader = []string{
	"job_id", "url", "depth", "status_code", "content_type",
	"title", "links", "success", "error", "processed_at", "duration_ms",
}

// NewCSVStorage creates a new CSV file storage rooted at outputDir.
func NewCSVStorage(outputDir string, logger *slog.Logger) (*CSVStorage, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.Create(filepath.Join(outputDir, "results.csv"))
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}

	return &CSVStorage{
		dir:    outputDir,
		file:   f,
		writer: csv.NewWriter(f),
		logger: logger.With("component", "csv_storage"),
	}, nil
}

func (s *CSVStorage) Name() string { return "csv" }

func (s *CSVStorage) SaveResult(jobID string, result *types.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.headerDone {
		if err := s.writer.Write(resultCSVHeader); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
		s.headerDone = true
	}

	rec := flattenResult(jobID, result)
	row := []string{
		rec.JobID, rec.URL, fmt.Sprint(rec.Depth), fmt.Sprint(rec.StatusCode),
		rec.ContentType, rec.Title, fmt.Sprint(rec.Links), fmt.Sprint(rec.Success),
		rec.Error, rec.ProcessedAt, fmt.Sprint(rec.DurationMS),
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("write CSV row: %w", err)
	}
	s.count++
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVStorage) SaveUrlState(jobID string, state *UrlState) error {
	path := filepath.Join(s.dir, "url_states.csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open url states csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{
		state.URL, state.DiscoveredAt.Format(time.RFC3339Nano),
		fmt.Sprint(state.StatusCode), fmt.Sprint(state.ContentLength),
		state.ContentType, fmt.Sprint(state.DownloadTime.Milliseconds()),
		state.ErrorMessage, fmt.Sprint(state.RetryCount),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write url state row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (s *CSVStorage) LoadCrawlState(jobID string) (*CrawlState, error) {
	return nil, nil
}

func (s *CSVStorage) SaveCrawlState(state *CrawlState) error {
	f, err := os.Create(filepath.Join(s.dir, "crawl_state.json"))
	if err != nil {
		return fmt.Errorf("create crawl state file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

func (s *CSVStorage) Close() error {
	s.logger.Info("csv storage closed", "results", s.count)
	s.writer.Flush()
	return s.file.Close()
}

// NewFileStorage creates the appropriate file-based storage by type.
func NewFileStorage(storageType, outputDir string, logger *slog.Logger) (Storage, error) {
	switch storageType {
	case "json":
		return NewJSONStorage(outputDir, logger)
	case "jsonl":
		return NewJSONLStorage(outputDir, logger)
	case "csv":
		return NewCSVStorage(outputDir, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
