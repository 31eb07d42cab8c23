package fetcher

import (
	"strings"
)

// antiBotBodyMarkers are substrings commonly present in interstitial pages
// served instead of real content: WAF challenge pages, CAPTCHA widgets, and
// generic "access denied" notices.
var antiBotBodyMarkers = []string{
	"cf-chl",
	"cf-challenge",
	"checking your browser",
	"access denied",
	"g-recaptcha",
	"h-captcha",
	"cf-turnstile",
	"please verify you are a human",
	"ddos protection by",
}

// DetectAntiBot inspects a response's status code and body for signals that
// the page served is a bot-mitigation challenge rather than real content.
// It never tries to solve the challenge — the downloader only needs to know
// whether to classify the fetch as ErrorKindAntiBot, on which it clears the
// host's cookie session. No extra per-host cooldown is applied; a retry
// waits out the ordinary backoff.
func DetectAntiBot(statusCode int, body string) bool {
	if statusCode == 403 || statusCode == 429 || statusCode == 503 {
		return true
	}

	lower := strings.ToLower(body)
	for _, marker := range antiBotBodyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
