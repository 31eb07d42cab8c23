package parser

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/webstalk/internal/types"
)

// MetadataExtractor pulls title, standard meta tags, OpenGraph, Twitter Card,
// and JSON-LD structured data out of a document's <head>.
type MetadataExtractor struct{}

// NewMetadataExtractor creates a new MetadataExtractor.
func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{}
}

func (e *MetadataExtractor) Name() string { return "metadata" }

func (e *MetadataExtractor) Extract(doc *goquery.Document, resp *types.Response) ([]string, map[string]any, error) {
	data := make(map[string]any)

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		data["Title"] = title
	}

	for _, name := range []string{"description", "keywords", "author", "robots"} {
		if content, exists := doc.Find(`meta[name="` + name + `"]`).Attr("content"); exists && content != "" {
			data["Meta_"+name] = content
		}
	}

	doc.Find("meta[name], meta[property]").Each(func(i int, sel *goquery.Selection) {
		key, _ := sel.Attr("name")
		if key == "" {
			key, _ = sel.Attr("property")
		}
		content, _ := sel.Attr("content")
		if key == "" || content == "" {
			return
		}
		data["Meta_"+strings.ReplaceAll(key, ":", "_")] = content
	})

	if canonical, exists := doc.Find(`link[rel="canonical"]`).Attr("href"); exists && canonical != "" {
		data["Canonical"] = canonical
	}

	if jsonLD := extractJSONLD(doc); len(jsonLD) > 0 {
		data["JSONLD"] = jsonLD
	}

	return nil, data, nil
}

// extractJSONLD parses every <script type="application/ld+json"> block,
// tolerating both single-object and array payloads.
func extractJSONLD(doc *goquery.Document) []map[string]any {
	var results []map[string]any

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			results = append(results, obj)
			return
		}

		var arr []map[string]any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			results = append(results, arr...)
		}
	})

	return results
}
