package parser

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const testHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Test Page</title>
    <meta name="description" content="A test page for parsing">
    <meta property="og:title" content="OG Test Title">
    <meta property="og:image" content="https://example.com/image.png">
    <meta name="twitter:card" content="summary">
    <meta name="twitter:title" content="Twitter Title">
    <script type="application/ld+json">
    {"@context":"https://schema.org","@type":"Article","name":"Test Article","author":"Bob"}
    </script>
</head>
<body>
    <h1 class="title">Hello World</h1>
    <div class="content">
        <p class="intro">This is a test paragraph.</p>
        <a href="/page2">Link 1</a>
        <a href="https://example.com/page3">Link 2</a>
        <img src="/logo.png">
    </div>
    <ul class="items">
        <li>Item 1</li>
        <li>Item 2</li>
        <li>Item 3</li>
    </ul>
    <table id="data">
        <tr><th>Name</th><th>Value</th></tr>
        <tr><td>Alpha</td><td>100</td></tr>
        <tr><td>Beta</td><td>200</td></tr>
    </table>
</body>
</html>`

func makeResp(url, body, contentType string) *types.Response {
	req, _ := types.NewRequest(url)
	return &types.Response{
		Request:     req,
		StatusCode:  200,
		Body:        []byte(body),
		ContentType: contentType,
		FinalURL:    url,
		Headers:     http.Header{},
	}
}

func TestLinkExtractor(t *testing.T) {
	ext := NewLinkExtractor()
	resp := makeResp("https://example.com/page1", testHTML, "text/html")
	doc, err := resp.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}

	links, data, err := ext.Extract(doc, resp)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d: %v", len(links), links)
	}
	if links[0] != "https://example.com/page2" {
		t.Errorf("expected resolved relative link, got %q", links[0])
	}

	if data["Image_0"] != "https://example.com/logo.png" {
		t.Errorf("expected resolved image, got %v", data["Image_0"])
	}
}

func TestMetadataExtractor(t *testing.T) {
	ext := NewMetadataExtractor()
	resp := makeResp("https://example.com", testHTML, "text/html")
	doc, err := resp.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}

	_, data, err := ext.Extract(doc, resp)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if data["Title"] != "Test Page" {
		t.Errorf("expected title 'Test Page', got %v", data["Title"])
	}
	if data["Meta_description"] != "A test page for parsing" {
		t.Errorf("expected description, got %v", data["Meta_description"])
	}
	if data["Meta_og_title"] != "OG Test Title" {
		t.Errorf("expected og:title, got %v", data["Meta_og_title"])
	}

	jsonLD, ok := data["JSONLD"].([]map[string]any)
	if !ok || len(jsonLD) != 1 {
		t.Fatalf("expected one JSON-LD block, got %v", data["JSONLD"])
	}
	if jsonLD[0]["name"] != "Test Article" {
		t.Errorf("expected JSON-LD name 'Test Article', got %v", jsonLD[0]["name"])
	}
}

func TestContentExtractor(t *testing.T) {
	ext := NewContentExtractor()
	resp := makeResp("https://example.com", testHTML, "text/html")
	doc, err := resp.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}

	_, data, err := ext.Extract(doc, resp)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if data["WordCount"].(int) == 0 {
		t.Error("expected nonzero word count")
	}
	if data["ParagraphCount"] != 1 {
		t.Errorf("expected 1 paragraph, got %v", data["ParagraphCount"])
	}

	headings, ok := data["Headings_h1"].([]string)
	if !ok || len(headings) != 1 || headings[0] != "Hello World" {
		t.Errorf("expected h1 'Hello World', got %v", data["Headings_h1"])
	}
}

func TestRuleExtractorCSS(t *testing.T) {
	rules := []config.ParseRule{
		{Name: "heading", Type: "css", Selector: "h1.title"},
		{Name: "intro", Type: "css", Selector: "p.intro"},
	}
	ext := NewRuleExtractor(rules, testLogger)
	resp := makeResp("https://example.com", testHTML, "text/html")
	doc, err := resp.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}

	_, data, err := ext.Extract(doc, resp)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if data["heading"] != "Hello World" {
		t.Errorf("expected 'Hello World', got %v", data["heading"])
	}
	if data["intro"] != "This is a test paragraph." {
		t.Errorf("expected intro text, got %v", data["intro"])
	}
}

func TestRuleExtractorXPathAndRegex(t *testing.T) {
	rules := []config.ParseRule{
		{Name: "heading", Type: "xpath", Selector: "//h1"},
		{Name: "title", Type: "regex", Pattern: `<title>(?P<title>[^<]+)</title>`},
		{Name: "rows", Type: "table", Selector: "#data"},
		{Name: "items", Type: "list", Selector: "ul.items"},
	}
	ext := NewRuleExtractor(rules, testLogger)
	resp := makeResp("https://example.com", testHTML, "text/html")
	doc, err := resp.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}

	_, data, err := ext.Extract(doc, resp)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if data["heading"] != "Hello World" {
		t.Errorf("expected xpath heading 'Hello World', got %v", data["heading"])
	}
	if data["title"] != "Test Page" {
		t.Errorf("expected regex title 'Test Page', got %v", data["title"])
	}

	rows, ok := data["rows"].([]string)
	if !ok || len(rows) != 3 {
		t.Fatalf("expected 3 table rows, got %v", data["rows"])
	}

	items, ok := data["items"].([]string)
	if !ok || len(items) != 3 {
		t.Errorf("expected 3 list items, got %v", data["items"])
	}
}

func TestNilRuleExtractor(t *testing.T) {
	if ext := NewRuleExtractor(nil, testLogger); ext != nil {
		t.Error("expected nil RuleExtractor when no rules configured")
	}
}

func TestContentDispatcherHTML(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Parser.Rules = []config.ParseRule{
		{Name: "heading", Type: "css", Selector: "h1"},
	}
	d := NewContentDispatcher(cfg, testLogger)

	resp := makeResp("https://example.com/page1", testHTML, "text/html; charset=utf-8")
	result, err := d.Parse(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.ErrorMessage)
	}
	if result.Title != "Test Page" {
		t.Errorf("expected title 'Test Page', got %q", result.Title)
	}
	if len(result.Links) != 2 {
		t.Errorf("expected 2 links, got %d", len(result.Links))
	}
	if len(result.ImageURLs) != 1 {
		t.Errorf("expected 1 image, got %d", len(result.ImageURLs))
	}
	if result.Fields["heading"] != "Hello World" {
		t.Errorf("expected rule-extracted heading, got %v", result.Fields["heading"])
	}
	if result.Fields["Meta_description"] == nil {
		t.Error("expected metadata extractor output merged into Fields")
	}
	if result.Fields["WordCount"] == nil {
		t.Error("expected content extractor output merged into Fields")
	}
}

func TestContentDispatcherText(t *testing.T) {
	d := NewContentDispatcher(config.DefaultConfig(), testLogger)
	body := strings.Repeat("a", 150)
	resp := makeResp("https://example.com/file.txt", body, "text/plain")

	result, err := d.Parse(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasSuffix(result.Title, "...") {
		t.Errorf("expected truncated title, got %q", result.Title)
	}
	if result.TextBody != body {
		t.Errorf("expected raw text body preserved")
	}
}

func TestContentDispatcherJSON(t *testing.T) {
	d := NewContentDispatcher(config.DefaultConfig(), testLogger)
	resp := makeResp("https://example.com/api", `{"ok":true}`, "application/json")

	result, err := d.Parse(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Title != "JSON Data" {
		t.Errorf("expected title 'JSON Data', got %q", result.Title)
	}
	if result.Fields["json"] != `{"ok":true}` {
		t.Errorf("expected raw json preserved, got %v", result.Fields["json"])
	}
}

func TestContentDispatcherRaw(t *testing.T) {
	d := NewContentDispatcher(config.DefaultConfig(), testLogger)
	resp := makeResp("https://example.com/file.bin", "\x00\x01\x02", "application/octet-stream")

	result, err := d.Parse(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Title != "application/octet-stream Data" {
		t.Errorf("unexpected title: %q", result.Title)
	}
	if _, ok := result.Fields["raw"]; !ok {
		t.Error("expected raw bytes under Fields[\"raw\"]")
	}
}

func BenchmarkContentDispatcherHTML(b *testing.B) {
	d := NewContentDispatcher(config.DefaultConfig(), testLogger)
	resp := makeResp("https://example.com", testHTML, "text/html")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp.Doc = nil
		d.Parse(resp)
	}
}
