// Package config holds the validated runtime configuration for a check run.
// It is built once at startup (from flags backed by environment variables) and passed
// by pointer into the components that need it; nothing reads the environment after that.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // zone lookups must not depend on the host's zoneinfo

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/listing"
	"github.com/drewfead/showtime-watcher/internal/match"
)

const (
	DefaultBaseURL     = "https://lk.bookmyshow.com/sri-lanka/cinemas/regal-cinema-jaffna/MCJA/"
	DefaultTimezone    = "Asia/Colombo"
	DefaultRetryCount  = 3
	DefaultRetryDelay  = 5 * time.Second
	DefaultWaitTimeout = 20 * time.Second
	DefaultSMTPHost    = "smtp.gmail.com"
	DefaultSMTPPort    = 465
	DefaultSMTPTimeout = 30 * time.Second
	DefaultDays        = 2
	DefaultSettleDelay = 2 * time.Second
	defaultMaxDays     = 14
	defaultMaxRetries  = 20
	FetchModeRender    = "render"
	FetchModeHTTP      = "http"
	DefaultFetchMode   = FetchModeRender
	DefaultMatchMode   = string(match.PolicyExact)
)

// DefaultReadySelectors are the listing containers whose appearance marks a rendered page as ready.
var DefaultReadySelectors = listing.ContainerSelectors()

var (
	ErrMissingMovieName   = errors.New("MOVIE_NAME is required")
	ErrInvalidBaseURL     = errors.New("BASE_URL is invalid")
	ErrInvalidTimezone    = errors.New("TIMEZONE is invalid")
	ErrInvalidRetryCount  = errors.New("RETRY_COUNT must be between 1 and 20")
	ErrInvalidDuration    = errors.New("durations must be positive")
	ErrInvalidFetchMode   = errors.New("FETCH_MODE must be render or http")
	ErrInvalidMatchMode   = errors.New("MATCH_MODE must be exact, substring or fuzzy")
	ErrMissingCredentials = errors.New("EMAIL_FROM and EMAIL_PASS are required unless running dry")
	ErrInvalidDays        = errors.New("DAYS must be between 1 and 14")
)

type Email struct {
	From     string
	To       string
	Password string
	SMTPHost string
	SMTPPort int
	Timeout  time.Duration
}

type Browser struct {
	Bin            string
	NoSandbox      bool
	ReadySelectors []string
	SettleDelay    time.Duration
}

type Config struct {
	BaseURL     string
	MovieName   string
	Timezone    string
	Days        int
	RetryCount  int
	RetryDelay  time.Duration
	WaitTimeout time.Duration
	FetchMode   string
	MatchMode   string
	DryRun      bool
	TMDBAPIKey  string
	Email       Email
	Browser     Browser

	location *time.Location
}

// Default returns a Config populated with every default; MovieName and the email credentials stay empty.
func Default() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Timezone:    DefaultTimezone,
		Days:        DefaultDays,
		RetryCount:  DefaultRetryCount,
		RetryDelay:  DefaultRetryDelay,
		WaitTimeout: DefaultWaitTimeout,
		FetchMode:   DefaultFetchMode,
		MatchMode:   DefaultMatchMode,
		Email: Email{
			SMTPHost: DefaultSMTPHost,
			SMTPPort: DefaultSMTPPort,
			Timeout:  DefaultSMTPTimeout,
		},
		Browser: Browser{
			ReadySelectors: append([]string(nil), DefaultReadySelectors...),
			SettleDelay:    DefaultSettleDelay,
		},
	}
}

// Validate normalizes the config and reports the first problem found.
// It must succeed before any date is checked.
func (c *Config) Validate() error {
	c.MovieName = strings.TrimSpace(c.MovieName)
	if c.MovieName == "" {
		return ErrMissingMovieName
	}
	if err := c.ValidateFetch(); err != nil {
		return err
	}
	if _, err := match.ParsePolicy(c.MatchMode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMatchMode, err)
	}

	if !c.DryRun {
		if c.Email.From == "" || c.Email.Password == "" {
			return ErrMissingCredentials
		}
		if c.Email.To == "" {
			c.Email.To = c.Email.From
		}
	}
	return nil
}

// ValidateFetch checks only what is needed to fetch pages: base URL, zone, day span, retries,
// durations and fetch mode. Commands that never match or notify use it instead of Validate.
func (c *Config) ValidateFetch() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBaseURL, u.Scheme)
	}
	c.BaseURL = strings.TrimSpace(c.BaseURL)

	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, c.Timezone, err)
	}
	c.location = loc

	if c.Days < 1 || c.Days > defaultMaxDays {
		return fmt.Errorf("%w: got %d", ErrInvalidDays, c.Days)
	}
	if c.RetryCount < 1 || c.RetryCount > defaultMaxRetries {
		return fmt.Errorf("%w: got %d", ErrInvalidRetryCount, c.RetryCount)
	}
	if c.RetryDelay < 0 || c.WaitTimeout <= 0 || c.Email.Timeout <= 0 || c.Browser.SettleDelay < 0 {
		return ErrInvalidDuration
	}

	c.FetchMode = strings.ToLower(strings.TrimSpace(c.FetchMode))
	if c.FetchMode != FetchModeRender && c.FetchMode != FetchModeHTTP {
		return fmt.Errorf("%w: got %q", ErrInvalidFetchMode, c.FetchMode)
	}
	return nil
}

// AttemptTimeout bounds one whole fetch attempt. Rendering spends part of it starting the
// browser and navigating before the WaitTimeout readiness wait even begins.
func (c *Config) AttemptTimeout() time.Duration {
	if c.FetchMode == FetchModeHTTP {
		return c.WaitTimeout + 5*time.Second
	}
	return 3 * c.WaitTimeout
}

// Location returns the zone used to decide which calendar days are "today" and "tomorrow".
// It is only valid after Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Policy returns the parsed match policy.
func (c *Config) Policy() match.Policy {
	p, err := match.ParsePolicy(c.MatchMode)
	if err != nil {
		return match.PolicyExact
	}
	return p
}

// PageURL builds <BASE_URL without trailing slash>/<YYYYMMDD>.
func PageURL(baseURL string, date time.Time) string {
	return strings.TrimRight(baseURL, "/") + "/" + date.Format(internal.DateLayout)
}

// Request builds the CheckRequest for a date.
func (c *Config) Request(date time.Time) internal.CheckRequest {
	return internal.CheckRequest{
		TargetDate: date,
		MovieName:  c.MovieName,
		BaseURL:    c.BaseURL,
	}
}

// Dates returns the calendar days to check, starting with today in the configured zone.
func (c *Config) Dates(now time.Time) []time.Time {
	local := now.In(c.Location())
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location())
	dates := make([]time.Time, 0, c.Days)
	for i := range c.Days {
		dates = append(dates, today.AddDate(0, 0, i))
	}
	return dates
}
