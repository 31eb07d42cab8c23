package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/webstalk/internal/types"
)

// LinkExtractor resolves every a[href] and img[src] in a document against the
// response's final URL, so relative links discovered mid-redirect-chain
// still resolve correctly.
type LinkExtractor struct{}

// NewLinkExtractor creates a new LinkExtractor.
func NewLinkExtractor() *LinkExtractor {
	return &LinkExtractor{}
}

func (e *LinkExtractor) Name() string { return "links" }

func (e *LinkExtractor) Extract(doc *goquery.Document, resp *types.Response) ([]string, map[string]any, error) {
	base, err := url.Parse(resp.FinalURL)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists {
			return
		}
		if resolved := resolveHref(base, href); resolved != "" && !seen[resolved] {
			seen[resolved] = true
			links = append(links, resolved)
		}
	})

	data := make(map[string]any)
	var images []string
	doc.Find("img[src]").Each(func(i int, sel *goquery.Selection) {
		src, exists := sel.Attr("src")
		if !exists {
			return
		}
		if resolved := resolveHref(base, src); resolved != "" {
			data[fmt.Sprintf("Image_%d", len(images))] = resolved
			images = append(images, resolved)
		}
	})
	if len(images) > 0 {
		data["ImageCount"] = len(images)
		data[imagesDataKey] = images
	}

	return links, data, nil
}

// resolveHref resolves href against base, skipping non-navigable schemes
// (anchors, javascript:, mailto:, tel:, data:) and returning "" for those.
func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" ||
		strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
