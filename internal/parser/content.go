package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/webstalk/internal/types"
)

// summaryLength is how much of the stripped body text is kept as a summary.
const summaryLength = 200

// ContentExtractor strips non-visible nodes (script/style/noscript/comments)
// and records body text stats: length, a short summary, paragraph count, and
// heading text by level.
type ContentExtractor struct{}

// NewContentExtractor creates a new ContentExtractor.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

func (e *ContentExtractor) Name() string { return "content" }

func (e *ContentExtractor) Extract(doc *goquery.Document, resp *types.Response) ([]string, map[string]any, error) {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	body.Contents().Each(func(i int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "#comment" {
			sel.Remove()
		}
	})

	text := normalizeWhitespace(body.Text())
	words := strings.Fields(text)

	data := map[string]any{
		"BodyLength": len(text),
		"WordCount":  len(words),
	}

	if len(text) > 0 {
		if len(text) > summaryLength {
			data["Summary"] = text[:summaryLength] + "..."
		} else {
			data["Summary"] = text
		}
	}

	paragraphCount := body.Find("p").Length()
	data["ParagraphCount"] = paragraphCount

	for level := 1; level <= 6; level++ {
		tag := fmt.Sprintf("h%d", level)
		var headings []string
		body.Find(tag).Each(func(i int, sel *goquery.Selection) {
			if h := normalizeWhitespace(sel.Text()); h != "" {
				headings = append(headings, h)
			}
		})
		if len(headings) > 0 {
			data["Headings_"+tag] = headings
		}
	}

	return nil, data, nil
}

// normalizeWhitespace collapses runs of whitespace (including newlines from
// block-level element boundaries) into single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
