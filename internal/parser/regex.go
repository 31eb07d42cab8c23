package parser

import (
	"fmt"
	"regexp"
	"sync"
)

// regexCache compiles and memoizes patterns across RuleExtractor calls —
// rules are static for the life of a crawl, so repeated Regexp.Compile on
// every page would be pure waste.
type regexCache struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{cache: make(map[string]*regexp.Regexp)}
}

func (c *regexCache) getOrCompile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if re, ok := c.cache[pattern]; ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}

	c.cache[pattern] = re
	return re, nil
}

// extractRegex applies a compiled regex to body. Named capture groups return
// every named submatch; a single unnamed group returns just that group;
// otherwise the whole match is returned.
func extractRegex(re *regexp.Regexp, body string) []string {
	var values []string

	names := re.SubexpNames()
	hasNamedGroups := false
	for _, name := range names {
		if name != "" {
			hasNamedGroups = true
			break
		}
	}

	switch {
	case hasNamedGroups:
		for _, match := range re.FindAllStringSubmatch(body, -1) {
			for i, name := range names {
				if name != "" && i < len(match) && match[i] != "" {
					values = append(values, match[i])
				}
			}
		}
	case re.NumSubexp() > 0:
		for _, match := range re.FindAllStringSubmatch(body, -1) {
			if len(match) > 1 {
				values = append(values, match[1])
			}
		}
	default:
		values = re.FindAllString(body, -1)
	}

	return values
}
