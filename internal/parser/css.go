package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/webstalk/internal/config"
)

// extractCSS applies a single CSS rule (via goquery/cascadia) and returns
// the matched values in document order.
func extractCSS(doc *goquery.Document, rule config.ParseRule) []string {
	var values []string

	doc.Find(rule.Selector).Each(func(i int, sel *goquery.Selection) {
		var val string

		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(sel.Text())
		case "html", "innerHTML":
			val, _ = sel.Html()
		case "outerHTML":
			val, _ = goquery.OuterHtml(sel)
		default:
			val, _ = sel.Attr(rule.Attribute)
		}

		if val != "" {
			values = append(values, val)
		}
	})

	return values
}
