// Package httputil holds the HTTP plumbing shared by both fetch engines: browser-like
// request profiles, anti-bot interstitial detection and a small response cache.
package httputil

import "math/rand/v2"

// Profile is a consistent set of request headers a real browser would send.
type Profile struct {
	Name           string
	UserAgent      string
	Accept         string
	AcceptLanguage string
}

const (
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// Profiles is the rotation pool. One is picked per fetch attempt.
var Profiles = []Profile{
	{
		Name:           "chrome-windows",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Accept:         defaultAccept,
		AcceptLanguage: defaultAcceptLanguage,
	},
	{
		Name:           "safari-macos",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		Accept:         defaultAccept,
		AcceptLanguage: defaultAcceptLanguage,
	},
	{
		Name:           "chrome-linux",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
		Accept:         defaultAccept,
		AcceptLanguage: defaultAcceptLanguage,
	},
	{
		Name:           "firefox-windows",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:117.0) Gecko/20100101 Firefox/117.0",
		Accept:         defaultAccept,
		AcceptLanguage: "en-US,en;q=0.5",
	},
}

// RandomProfile picks a profile from Profiles.
func RandomProfile() Profile {
	return Profiles[rand.IntN(len(Profiles))]
}

// Headers returns the profile as request headers.
func (p Profile) Headers() map[string]string {
	return map[string]string{
		"User-Agent":      p.UserAgent,
		"Accept":          p.Accept,
		"Accept-Language": p.AcceptLanguage,
		"Connection":      "keep-alive",
	}
}
