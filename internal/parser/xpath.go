package parser

import (
	"log/slog"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/crawlkit/webstalk/internal/config"
)

// extractXPath evaluates an XPath expression (via antchfx/htmlquery) against
// a parsed html.Node tree and returns the matched values.
func extractXPath(doc *html.Node, rule config.ParseRule, logger *slog.Logger) []string {
	nodes, err := htmlquery.QueryAll(doc, rule.Selector)
	if err != nil {
		logger.Warn("invalid xpath", "selector", rule.Selector, "error", err)
		return nil
	}

	var values []string
	for _, node := range nodes {
		var val string

		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(htmlquery.InnerText(node))
		case "html", "innerHTML":
			val = htmlquery.OutputHTML(node, false)
		case "outerHTML":
			val = htmlquery.OutputHTML(node, true)
		default:
			val = htmlquery.SelectAttr(node, rule.Attribute)
		}

		if val != "" {
			values = append(values, val)
		}
	}

	return values
}
