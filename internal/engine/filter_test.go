package engine

import "testing"

func TestURLFilterMaxDepth(t *testing.T) {
	f := NewURLFilter(nil, nil, nil, 2)

	if !f.Allow("https://example.com/a", 2) {
		t.Error("expected depth at the ceiling to be allowed")
	}
	if f.Allow("https://example.com/a", 3) {
		t.Error("expected depth past the ceiling to be rejected")
	}

	f.SetMaxDepth(5)
	if !f.Allow("https://example.com/a", 3) {
		t.Error("expected depth 3 to be allowed after raising the ceiling to 5")
	}
}

func TestURLFilterAllowedDisallowedDomains(t *testing.T) {
	f := NewURLFilter([]string{"example.com"}, []string{"blocked.example.com"}, nil, 0)

	if !f.Allow("https://example.com/page", 0) {
		t.Error("expected allowed domain to pass")
	}
	if f.Allow("https://other.com/page", 0) {
		t.Error("expected domain outside the allow-list to be rejected")
	}

	f2 := NewURLFilter(nil, []string{"blocked.example.com"}, nil, 0)
	if f2.Allow("https://blocked.example.com/page", 0) {
		t.Error("expected disallowed domain to be rejected")
	}
}

func TestURLFilterBlockedPattern(t *testing.T) {
	f := NewURLFilter(nil, nil, []string{`\.pdf$`}, 0)
	if f.Allow("https://example.com/doc.pdf", 0) {
		t.Error("expected pattern-blocked URL to be rejected")
	}
	if !f.Allow("https://example.com/doc.html", 0) {
		t.Error("expected non-matching URL to be allowed")
	}
}

func TestURLFilterMalformedURL(t *testing.T) {
	f := NewURLFilter(nil, nil, nil, 0)
	if f.Allow("://not-a-url", 0) {
		t.Error("expected malformed URL to be rejected silently")
	}
}
