package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/crawlkit/webstalk/internal/config"
	"github.com/crawlkit/webstalk/internal/types"
)

// RuleExtractor applies operator-supplied CSS, XPath, and regex field rules
// on top of the structural extractors. It is optional — a ContentDispatcher
// with no configured rules simply never registers one.
type RuleExtractor struct {
	rules  []config.ParseRule
	regex  *regexCache
	logger *slog.Logger
}

// NewRuleExtractor builds a RuleExtractor from the parser configuration's
// rule list. Returns nil if rules is empty, since there is nothing to apply.
func NewRuleExtractor(rules []config.ParseRule, logger *slog.Logger) *RuleExtractor {
	if len(rules) == 0 {
		return nil
	}
	return &RuleExtractor{
		rules:  rules,
		regex:  newRegexCache(),
		logger: logger.With("component", "rule_extractor"),
	}
}

func (e *RuleExtractor) Name() string { return "rules" }

func (e *RuleExtractor) Extract(doc *goquery.Document, resp *types.Response) ([]string, map[string]any, error) {
	data := make(map[string]any)
	var errs []string

	var xpathDoc *html.Node
	body := string(resp.Body)

	for _, rule := range e.rules {
		var values []string

		switch rule.Type {
		case "css", "":
			values = extractCSS(doc, rule)
		case "table":
			for _, row := range extractTable(doc, rule.Selector) {
				values = append(values, strings.Join(row, "|"))
			}
		case "list":
			values = extractListItems(doc, rule.Selector)
		case "xpath":
			if xpathDoc == nil {
				var err error
				xpathDoc, err = html.Parse(strings.NewReader(body))
				if err != nil {
					errs = append(errs, fmt.Sprintf("rule %q: parse html for xpath: %v", rule.Name, err))
					continue
				}
			}
			values = extractXPath(xpathDoc, rule, e.logger)
		case "regex":
			re, err := e.regex.getOrCompile(rule.Pattern)
			if err != nil {
				errs = append(errs, fmt.Sprintf("rule %q: %v", rule.Name, err))
				continue
			}
			values = extractRegex(re, body)
		default:
			errs = append(errs, fmt.Sprintf("rule %q: unknown type %q", rule.Name, rule.Type))
			continue
		}

		switch len(values) {
		case 0:
		case 1:
			data[rule.Name] = values[0]
		default:
			data[rule.Name] = values
		}
	}

	var err error
	if len(errs) > 0 {
		err = &types.ParseError{
			URL: resp.Request.URLString(),
			Err: fmt.Errorf("rule errors: %s", strings.Join(errs, "; ")),
		}
	}

	return nil, data, err
}
