package httputil

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheEntries = 256
	defaultCacheTTL     = time.Hour
)

// CacheTransport is an http.RoundTripper that keeps successful GET responses in an expiring LRU.
// It is meant for metadata lookups (TMDB) that repeat within one process, e.g. the same movie
// found on both dates. The cache lives in memory only. Listing pages never go through it since
// every fetch attempt has to see the live page.
type CacheTransport struct {
	Base http.RoundTripper

	// OnCacheHit, if set, is called for every GET with the cache key and whether it was served from memory.
	OnCacheHit func(key string, hit bool)

	cache *expirable.LRU[string, *cachedResponse]
}

type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

// NewCacheTransport returns a CacheTransport holding up to maxEntries responses for ttl each.
// Non-positive arguments fall back to 256 entries and one hour.
func NewCacheTransport(base http.RoundTripper, maxEntries int, ttl time.Duration) *CacheTransport {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CacheTransport{
		Base:  base,
		cache: expirable.NewLRU[string, *cachedResponse](maxEntries, nil, ttl),
	}
}

func (t *CacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Method != http.MethodGet || t.cache == nil {
		return base.RoundTrip(req)
	}

	key := req.Method + " " + req.URL.String()
	if !wantsFresh(req) {
		if entry, ok := t.cache.Get(key); ok {
			t.report(key, true)
			return &http.Response{
				Status:        http.StatusText(entry.status),
				StatusCode:    entry.status,
				Header:        entry.header.Clone(),
				Body:          io.NopCloser(bytes.NewReader(entry.body)),
				ContentLength: int64(len(entry.body)),
				Request:       req,
			}, nil
		}
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.report(key, false)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || noStore(resp.Header) {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	t.cache.Add(key, &cachedResponse{status: resp.StatusCode, header: resp.Header.Clone(), body: body})
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (t *CacheTransport) report(key string, hit bool) {
	if t.OnCacheHit != nil {
		t.OnCacheHit(key, hit)
	}
}

func wantsFresh(req *http.Request) bool {
	cc := strings.ToLower(req.Header.Get("Cache-Control"))
	return strings.Contains(cc, "no-cache") || strings.Contains(cc, "max-age=0")
}

func noStore(h http.Header) bool {
	for _, cc := range h.Values("Cache-Control") {
		if strings.Contains(strings.ToLower(cc), "no-store") {
			return true
		}
	}
	return false
}
