package parser

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/webstalk/internal/types"
)

// Extractor pulls links and structured fields out of a parsed document.
// Implementations must not mutate doc — the dispatcher shares one *goquery.Document
// across every registered extractor running concurrently.
type Extractor interface {
	// Name identifies the extractor in logs and error messages.
	Name() string

	// Extract returns links discovered in doc and a flat field map to merge
	// into the response's ParseResult.Fields. Either return value may be nil.
	Extract(doc *goquery.Document, resp *types.Response) (links []string, data map[string]any, err error)
}
