package httputil

import (
	"net/http"
	"strings"
)

// challengeMarkers only appear on interstitial/challenge pages, never on a served listing.
var challengeMarkers = []string{
	"cf_chl_opt",
	"cf-browser-verification",
	"<title>just a moment...</title>",
	"attention required! | cloudflare",
	"px-captcha",
	"_incapsula_resource",
	"geo.captcha-delivery.com",
	"<title>access denied</title>",
}

// maxInspect bounds how much of a page is scanned; challenge pages are small.
const maxInspect = 64 << 10

// LooksBlocked reports whether a response is an anti-automation interstitial rather than content.
// A 429 is always treated as throttling. Other statuses count only when the body carries a challenge marker.
func LooksBlocked(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if len(body) > maxInspect {
		body = body[:maxInspect]
	}
	lower := strings.ToLower(body)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
