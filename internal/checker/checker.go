// Package checker drives the availability check for each date in scope: fetch the listing page,
// parse it, match the target movie and notify when showtimes are found.
//
// Dates are checked one after another. A failed date is reported and the run moves on; nothing
// a single date does can stop the others from being checked.
package checker

import (
	"context"
	"log/slog"
	"time"

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/config"
	"github.com/drewfead/showtime-watcher/internal/enrichment"
	"github.com/drewfead/showtime-watcher/internal/listing"
	"github.com/drewfead/showtime-watcher/internal/match"
	"github.com/google/uuid"
)

type State uint8

const (
	StatePending State = iota
	StateFetching
	StateParsing
	StateMatching
	StateNotifying
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateParsing:
		return "parsing"
	case StateMatching:
		return "matching"
	case StateNotifying:
		return "notifying"
	case StateDone:
		return "done"
	}
	return "unknown"
}

type Outcome uint8

const (
	OutcomeNotFound Outcome = iota
	OutcomeFound
	OutcomeFetchFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFound:
		return "found"
	case OutcomeFetchFailed:
		return "fetch_failed"
	}
	return "unknown"
}

// Report is what one date's check produced.
type Report struct {
	Request  internal.CheckRequest
	Result   internal.CheckResult
	Outcome  Outcome
	Listings int

	// Err is the fetch failure when Outcome is OutcomeFetchFailed.
	Err error

	// Notified is true once the notifier accepted the alert. A delivery failure leaves the
	// outcome as found and is recorded in DeliveryErr.
	Notified    bool
	DeliveryErr error
}

type Checker struct {
	cfg        *config.Config
	fetcher    internal.Fetcher
	notifier   internal.Notifier
	parser     *listing.Parser
	matcher    *match.Matcher
	enrichment []internal.EnrichmentProvider
	now        func() time.Time
	newRunID   func() string
}

// Option applies configuration to a Checker.
type Option func(*Checker)

// WithClock overrides the clock used to decide which dates are today and tomorrow.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMatcher(m *match.Matcher) Option {
	return func(c *Checker) {
		if m != nil {
			c.matcher = m
		}
	}
}

func WithParser(p *listing.Parser) Option {
	return func(c *Checker) {
		if p != nil {
			c.parser = p
		}
	}
}

// WithEnrichment adds providers that decorate an alert before it is handed to the notifier.
func WithEnrichment(providers ...internal.EnrichmentProvider) Option {
	return func(c *Checker) {
		c.enrichment = append(c.enrichment, providers...)
	}
}

// WithRunID fixes the run id attached to log lines instead of generating one per Run.
func WithRunID(id string) Option {
	return func(c *Checker) {
		if id != "" {
			c.newRunID = func() string { return id }
		}
	}
}

// New builds a Checker. cfg must already be validated.
func New(cfg *config.Config, fetcher internal.Fetcher, notifier internal.Notifier, opts ...Option) *Checker {
	c := &Checker{
		cfg:      cfg,
		fetcher:  fetcher,
		notifier: notifier,
		parser:   listing.New(),
		matcher:  match.New(cfg.Policy()),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run checks every configured date in order and returns one report per date.
func (c *Checker) Run(ctx context.Context) []Report {
	log := slog.With("run_id", c.newRunID())
	dates := c.cfg.Dates(c.now())
	log.Info("checker: run started",
		"movie", c.cfg.MovieName,
		"dates", len(dates),
		"timezone", c.cfg.Location().String(),
		"match_policy", string(c.matcher.Policy()),
	)

	reports := make([]Report, 0, len(dates))
	var found, failed int
	for _, date := range dates {
		r := c.check(ctx, log, date)
		switch r.Outcome {
		case OutcomeFound:
			found++
		case OutcomeFetchFailed:
			failed++
		}
		reports = append(reports, r)
	}
	log.Info("checker: run finished", "dates", len(reports), "found", found, "failed", failed)
	return reports
}

// Check runs the pipeline for a single date.
func (c *Checker) Check(ctx context.Context, date time.Time) Report {
	return c.check(ctx, slog.With("run_id", c.newRunID()), date)
}

func (c *Checker) check(ctx context.Context, log *slog.Logger, date time.Time) Report {
	req := c.cfg.Request(date)
	url := config.PageURL(req.BaseURL, req.TargetDate)
	log = log.With("date", req.DateString(), "url", url)
	report := Report{Request: req}

	state := StatePending
	enter := func(next State) {
		log.Debug("checker: state", "from", state.String(), "to", next.String())
		state = next
	}
	defer enter(StateDone)

	enter(StateFetching)
	page, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		report.Outcome = OutcomeFetchFailed
		report.Err = err
		report.Result = internal.NewCheckResult(req.DateString(), req.MovieName, nil, url)
		kind, _ := internal.FetchErrorKindOf(err)
		log.Warn("checker: date check failed", "kind", kind.String(), "error", err)
		return report
	}

	enter(StateParsing)
	listings := c.parser.Parse(page.HTML)
	report.Listings = len(listings)

	enter(StateMatching)
	showtimes := c.matcher.Match(listings, req.MovieName)
	report.Result = internal.NewCheckResult(req.DateString(), req.MovieName, showtimes, url)
	if !report.Result.Found() {
		report.Outcome = OutcomeNotFound
		log.Info("checker: not found", "movie", req.MovieName, "listings", len(listings))
		return report
	}
	report.Outcome = OutcomeFound
	log.Info("checker: found", "movie", req.MovieName, "showtimes", report.Result.MatchedShowtimes)

	enter(StateNotifying)
	alert := enrichment.Enrich(ctx, internal.Alert{Result: report.Result}, c.enrichment...)
	if err := c.notifier.Notify(ctx, alert); err != nil {
		report.DeliveryErr = err
		log.Error("checker: notification failed", "error", err)
		return report
	}
	report.Notified = true
	return report
}
