package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	tmdb "github.com/cyruzin/golang-tmdb"
	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/httputil"
	"github.com/drewfead/showtime-watcher/internal/match"
)

const (
	tmdbCacheEntries = 128
	tmdbCacheTTL     = 6 * time.Hour
	tmdbTimeout      = 10 * time.Second
)

// httpRequestRecord is appended by auditTransport for each outgoing request.
type httpRequestRecord struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// audit collects what happened on the wire during one Enrich call.
type audit struct {
	mu        sync.Mutex
	requests  []httpRequestRecord
	cacheHits map[string]bool
}

func (a *audit) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = nil
	a.cacheHits = make(map[string]bool)
}

func (a *audit) request(r httpRequestRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, r)
}

func (a *audit) cacheHit(key string, hit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cacheHits != nil {
		a.cacheHits[key] = hit
	}
}

func (a *audit) annotate(annotations map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) > 0 {
		reqs := make([]map[string]any, len(a.requests))
		for i, r := range a.requests {
			reqs[i] = map[string]any{"method": r.Method, "url": r.URL, "status": r.Status}
		}
		annotations["http_requests"] = reqs
	}
	for key, hit := range a.cacheHits {
		if strings.Contains(key, "search/movie") {
			annotations["cache_search_hit"] = hit
		}
	}
}

type auditTransport struct {
	base  http.RoundTripper
	audit *audit
}

func (t *auditTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.audit.request(httpRequestRecord{
		Method: req.Method,
		URL:    redactKey(req.URL.String()),
		Status: resp.StatusCode,
	})
	return resp, nil
}

// redactKey drops the api_key query value so it never lands in logs.
func redactKey(u string) string {
	i := strings.Index(u, "api_key=")
	if i < 0 {
		return u
	}
	end := strings.IndexByte(u[i:], '&')
	if end < 0 {
		return u[:i] + "api_key=REDACTED"
	}
	return u[:i] + "api_key=REDACTED" + u[i+end:]
}

type tmdbEnrichment struct {
	client *tmdb.Client
	audit  *audit
	now    func() time.Time
}

// TMDBOption applies configuration to the TMDB provider.
type TMDBOption func(*tmdbConfig)

type tmdbConfig struct {
	transport http.RoundTripper
	now       func() time.Time
}

// TMDBWithTransport sets the transport underneath the response cache (tests point it at an httptest server).
func TMDBWithTransport(rt http.RoundTripper) TMDBOption {
	return func(c *tmdbConfig) {
		if rt != nil {
			c.transport = rt
		}
	}
}

// TMDBWithClock overrides the clock used to stamp audits.
func TMDBWithClock(now func() time.Time) TMDBOption {
	return func(c *tmdbConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// TMDB returns a provider that looks the alert's movie up on The Movie Database.
func TMDB(apiKey string, opts ...TMDBOption) (internal.EnrichmentProvider, error) {
	c := tmdbConfig{transport: http.DefaultTransport, now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	tmdbClient, err := tmdb.InitV4(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize TMDB client: %w", err)
	}
	e := &tmdbEnrichment{client: tmdbClient, audit: &audit{}, now: c.now}
	cacheTransport := httputil.NewCacheTransport(c.transport, tmdbCacheEntries, tmdbCacheTTL)
	cacheTransport.OnCacheHit = e.audit.cacheHit
	tmdbClient.SetClientConfig(http.Client{
		Timeout:   tmdbTimeout,
		Transport: &auditTransport{base: cacheTransport, audit: e.audit},
	})
	return e, nil
}

// titleEqual normalizes both strings (collapse spaces, case-insensitive) for comparison.
func titleEqual(a, b string) bool {
	norm := func(s string) string {
		return strings.ToUpper(strings.Join(strings.Fields(s), " "))
	}
	return norm(a) == norm(b)
}

// pickBestResult prefers an exact title match, then the closest Jaro-Winkler title above the
// fuzzy match threshold. Nil means nothing is close enough to trust.
func pickBestResult(results []tmdb.MovieResult, title string) (*tmdb.MovieResult, float64) {
	for i := range results {
		if titleEqual(results[i].Title, title) {
			return &results[i], 1
		}
	}
	var (
		best      *tmdb.MovieResult
		bestScore float64
	)
	target := strings.ToLower(strings.TrimSpace(title))
	for i := range results {
		score := matchr.JaroWinkler(strings.ToLower(strings.TrimSpace(results[i].Title)), target, false)
		if score > bestScore {
			best, bestScore = &results[i], score
		}
	}
	if bestScore < match.FuzzyThreshold {
		return nil, bestScore
	}
	return best, bestScore
}

// Enrich is not safe for concurrent use; the audit is per call.
func (e *tmdbEnrichment) Enrich(_ context.Context, alert internal.Alert) (internal.Alert, error) {
	e.audit.reset()
	annotations := make(map[string]any)

	title := strings.TrimSpace(alert.Result.MovieName)
	if title == "" {
		annotations["skipped"] = "no movie name"
		alert.Audits = append(alert.Audits, internal.EnrichmentAudit{
			Result:      internal.EnrichmentResultSkipped,
			At:          e.now(),
			Annotations: annotations,
		})
		return alert, nil
	}

	searchResults, err := e.client.GetSearchMovies(title, map[string]string{
		"language": "en-US",
	})
	if err != nil {
		return alert, fmt.Errorf("failed to search for movie %s: %w", title, err)
	}
	annotations["query"] = title

	best, score := pickBestResult(searchResults.Results, title)
	annotations["score"] = score
	if best == nil {
		e.audit.annotate(annotations)
		annotations["skipped"] = "no confident match"
		alert.Audits = append(alert.Audits, internal.EnrichmentAudit{
			Result:      internal.EnrichmentResultSkipped,
			Details:     fmt.Sprintf("%d results, none close to %q", len(searchResults.Results), title),
			At:          e.now(),
			Annotations: annotations,
		})
		return alert, nil
	}

	info := internal.MovieInfo{
		Title:    best.Title,
		Overview: best.Overview,
		Links: []internal.Link{
			{
				Href:    fmt.Sprintf("https://www.themoviedb.org/movie/%d", best.ID),
				Display: "TMDB",
			},
		},
	}
	details, err := e.client.GetMovieDetails(int(best.ID), map[string]string{"language": "en-US"})
	if err != nil {
		annotations["details_error"] = err.Error()
	} else {
		info.Tagline = details.Tagline
		if details.Overview != "" {
			info.Overview = details.Overview
		}
	}
	alert.Movie = info

	annotations["tmdb_id"] = best.ID
	e.audit.annotate(annotations)
	alert.Audits = append(alert.Audits, internal.EnrichmentAudit{
		Result:      internal.EnrichmentResultSuccess,
		At:          e.now(),
		Annotations: annotations,
	})
	return alert, nil
}
