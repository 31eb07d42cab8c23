package types

import (
	"strings"
	"time"
)

// ParseResult is what a parser produces from a successfully fetched page:
// the links discovered on it plus whatever fields its extractors filled in.
type ParseResult struct {
	// URL is the page this result was parsed from.
	URL string

	// Links are absolute URLs discovered on the page, in document order,
	// before deduplication against the frontier's seen-set.
	Links []string

	// Fields holds extractor output keyed by extractor-defined names
	// (e.g. "Meta_description", "Image_0", "Headings_h1").
	Fields map[string]any

	// Title is the page title, trimmed of surrounding whitespace.
	Title string

	// TextBody is the whitespace-normalized visible text of the page.
	TextBody string

	// ImageURLs are absolute image URLs discovered on the page.
	ImageURLs []string

	// ContentType is the MIME type that was parsed.
	ContentType string

	// ParseDuration is how long parsing took.
	ParseDuration time.Duration

	// Success is false if parsing failed outright (the HTML document could
	// not be read); an extractor error is recorded in ErrorMessage and does
	// not clear Success.
	Success bool

	// ErrorMessage carries the parse failure, if any.
	ErrorMessage string
}

// NewParseResult creates an empty ParseResult for url. Success starts
// false; the parser sets it once the content has been read.
func NewParseResult(url string) *ParseResult {
	return &ParseResult{
		URL:    url,
		Links:  make([]string, 0),
		Fields: make(map[string]any),
	}
}

// Set stores a field value under key in Fields, for dynamic extractor
// output.
func (p *ParseResult) Set(key string, value any) {
	p.Fields[key] = value
}

// SetTitle trims and stores the page title.
func (p *ParseResult) SetTitle(title string) {
	p.Title = strings.TrimSpace(title)
}

// CrawlResult is the full record of one request's trip through the engine:
// the request that was issued, the raw fetch outcome, the parsed outcome
// (nil if the fetch failed before parsing), and timing.
type CrawlResult struct {
	Request       *Request
	Response      *Response
	Parse         *ParseResult
	FetchErr      error
	ProcessedAt   time.Time
	TotalDuration time.Duration
}

// Succeeded reports whether the request produced a storable page.
func (c *CrawlResult) Succeeded() bool {
	return c.FetchErr == nil && c.Response != nil && c.Response.IsSuccess()
}

// DomainStats aggregates per-host crawl performance, shared by the engine's
// live statistics and the storage layer's persisted crawl state.
type DomainStats struct {
	Domain          string
	RequestCount    int64
	SuccessCount    int64
	ErrorCount      int64
	TotalBytes      int64
	AvgDownloadTime time.Duration
}
