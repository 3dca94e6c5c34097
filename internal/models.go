package internal

import (
	"slices"
	"time"
)

// DateLayout is the YYYYMMDD segment appended to the listing base URL.
const DateLayout = "20060102"

type CheckRequest struct {
	TargetDate time.Time `json:"target_date"`
	MovieName  string    `json:"movie_name"`
	BaseURL    string    `json:"base_url"`
}

// DateString formats the target date as it appears in the page URL.
func (r CheckRequest) DateString() string {
	return r.TargetDate.Format(DateLayout)
}

type RawPage struct {
	HTML      string    `json:"html"`
	SourceURL string    `json:"source_url"`
	FetchedAt time.Time `json:"fetched_at"`
	Engine    string    `json:"engine"`
}

type Listing struct {
	MovieTitle string   `json:"movie_title"`
	Showtimes  []string `json:"showtimes"`
}

// CheckResult is the outcome of one date's check. MatchedShowtimes is empty when the movie was not found.
// Construct with NewCheckResult; the showtimes slice is copied so later edits by the caller don't leak in.
type CheckResult struct {
	Date             string   `json:"date"`
	MovieName        string   `json:"movie_name"`
	MatchedShowtimes []string `json:"matched_showtimes"`
	PageURL          string   `json:"page_url"`
}

func NewCheckResult(date, movieName string, showtimes []string, pageURL string) CheckResult {
	return CheckResult{
		Date:             date,
		MovieName:        movieName,
		MatchedShowtimes: slices.Clone(showtimes),
		PageURL:          pageURL,
	}
}

// Found reports whether any showtime matched.
func (r CheckResult) Found() bool {
	return len(r.MatchedShowtimes) > 0
}

// Showtimes returns a copy of the matched showtimes.
func (r CheckResult) Showtimes() []string {
	return slices.Clone(r.MatchedShowtimes)
}

// Alert is what gets handed to a Notifier: a found CheckResult plus whatever enrichment succeeded.
type Alert struct {
	Result CheckResult       `json:"result"`
	Movie  MovieInfo         `json:"movie"`
	Audits []EnrichmentAudit `json:"audits"`
}

type MovieInfo struct {
	Title    string `json:"title"`
	Tagline  string `json:"tagline"`
	Overview string `json:"overview"`
	Links    []Link `json:"links"`
}

type Link struct {
	Href    string `json:"href"`
	Display string `json:"display"`
}

type EnrichmentResult uint8

const (
	EnrichmentResultSuccess EnrichmentResult = iota
	EnrichmentResultFailure
	EnrichmentResultSkipped
)

func (r EnrichmentResult) String() string {
	switch r {
	case EnrichmentResultSuccess:
		return "success"
	case EnrichmentResultFailure:
		return "failure"
	case EnrichmentResultSkipped:
		return "skipped"
	}
	return "unknown"
}

type EnrichmentAudit struct {
	Result      EnrichmentResult `json:"result"`
	Details     string           `json:"details"`
	At          time.Time        `json:"at"`
	Annotations map[string]any   `json:"annotations"`
}

// RetryState tracks one URL's fetch attempts. It lives only as long as a single Fetch call.
type RetryState struct {
	Attempt   int
	LastError error
}
