package parser

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/types"
)

// imagesDataKey is a reserved Fields key an extractor may use to hand the
// dispatcher a []string of image URLs to fold into ParseResult.ImageURLs.
const imagesDataKey = "_images"

// titleSummaryLen is how much of a non-HTML text body becomes the title.
const titleSummaryLen = 100

// ContentDispatcher is the parser package's top-level entry point. It
// dispatches on the response's content type and, for HTML, fans the shared
// document out to every registered Extractor concurrently.
type ContentDispatcher struct {
	extractors []Extractor
	logger     *slog.Logger
}

// NewContentDispatcher builds a dispatcher running the three structural
// extractors (links, metadata, content) plus an optional RuleExtractor when
// cfg carries field-extraction rules.
func NewContentDispatcher(cfg *config.Config, logger *slog.Logger) *ContentDispatcher {
	extractors := []Extractor{
		NewLinkExtractor(),
		NewMetadataExtractor(),
		NewContentExtractor(),
	}

	if rules := NewRuleExtractor(cfg.Parser.Rules, logger); rules != nil {
		extractors = append(extractors, rules)
	}

	return &ContentDispatcher{
		extractors: extractors,
		logger:     logger.With("component", "content_dispatcher"),
	}
}

// Parse dispatches resp by content type and returns the resulting
// ParseResult. It never returns a non-nil error for malformed content —
// failures are captured inside the result itself (Success=false,
// ErrorMessage set) so the engine can always record a result.
func (d *ContentDispatcher) Parse(resp *types.Response) (*types.ParseResult, error) {
	start := time.Now()
	result := types.NewParseResult(resp.FinalURL)
	result.ContentType = resp.ContentType
	result.Success = true

	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(resp.ContentType, ";", 2)[0]))

	switch {
	case mediaType == "" || strings.HasPrefix(mediaType, "text/html"):
		d.parseHTML(resp, result)
	case strings.HasPrefix(mediaType, "text/"):
		d.parseText(resp, result)
	case mediaType == "application/json":
		d.parseJSON(resp, result)
	default:
		d.parseRaw(resp, result, mediaType)
	}

	result.ParseDuration = time.Since(start)
	return result, nil
}

// parseHTML runs every registered extractor concurrently over one shared
// read-only *goquery.Document and merges their output under a mutex.
func (d *ContentDispatcher) parseHTML(resp *types.Response, result *types.ParseResult) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		result.Success = false
		result.ErrorMessage = fmt.Sprintf("html parse: %v", err)
		return
	}

	result.SetTitle(doc.Find("title").First().Text())
	result.TextBody = normalizeWhitespace(doc.Find("body").Text())

	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs []string

	for _, ext := range d.extractors {
		wg.Add(1)
		go func(ext Extractor) {
			defer wg.Done()

			links, data, err := ext.Extract(doc, resp)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ext.Name(), err))
			}
			result.Links = append(result.Links, links...)
			for k, v := range data {
				if k == imagesDataKey {
					if imgs, ok := v.([]string); ok {
						result.ImageURLs = append(result.ImageURLs, imgs...)
					}
					continue
				}
				result.Fields[k] = v
			}
		}(ext)
	}

	wg.Wait()

	if len(errs) > 0 {
		result.ErrorMessage = strings.Join(errs, "; ")
	}
}

// parseText handles non-HTML text/* bodies: raw content as the body, title
// synthesized from the first titleSummaryLen characters.
func (d *ContentDispatcher) parseText(resp *types.Response, result *types.ParseResult) {
	body := string(resp.Body)
	result.TextBody = body
	result.SetTitle(summarize(body, titleSummaryLen))
}

// parseJSON stores the raw payload under Fields["json"].
func (d *ContentDispatcher) parseJSON(resp *types.Response, result *types.ParseResult) {
	result.Fields["json"] = string(resp.Body)
	result.Title = "JSON Data"
}

// parseRaw stores unrecognized content types under Fields["raw"].
func (d *ContentDispatcher) parseRaw(resp *types.Response, result *types.ParseResult, mediaType string) {
	result.Fields["raw"] = resp.Body
	if mediaType == "" {
		mediaType = "unknown"
	}
	result.Title = fmt.Sprintf("%s Data", mediaType)
}

func summarize(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
