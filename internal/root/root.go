package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/browser"
	"github.com/drewfead/showtime-watcher/internal/checker"
	"github.com/drewfead/showtime-watcher/internal/config"
	"github.com/drewfead/showtime-watcher/internal/enrichment"
	"github.com/drewfead/showtime-watcher/internal/fetch"
	"github.com/drewfead/showtime-watcher/internal/listing"
	"github.com/drewfead/showtime-watcher/internal/match"
	"github.com/drewfead/showtime-watcher/internal/notify"
	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RootOption configures the root command (e.g. for tests).
type RootOption func(*rootConfig)

type rootConfig struct {
	engine   internal.Engine
	notifier internal.Notifier
	now      func() time.Time

	logFile io.Closer
}

// WithEngine replaces the engine chosen by --fetch-mode. Use in tests to point the check at a
// golden HTTP server instead of launching a browser.
func WithEngine(engine internal.Engine) RootOption {
	return func(c *rootConfig) {
		c.engine = engine
	}
}

// WithNotifier replaces the email/dry-run notifier. It is still wrapped in de-duplication.
func WithNotifier(n internal.Notifier) RootOption {
	return func(c *rootConfig) {
		c.notifier = n
	}
}

// WithClock overrides the clock used to pick today's date.
func WithClock(now func() time.Time) RootOption {
	return func(c *rootConfig) {
		c.now = now
	}
}

func Root(_ context.Context, opts ...RootOption) (*cli.Command, error) {
	rc := &rootConfig{now: time.Now}
	for _, opt := range opts {
		opt(rc)
	}

	rootCmd := &cli.Command{
		Name:           "showtime-watcher",
		Usage:          "check a cinema listing page for a movie's showtimes and email when they appear",
		DefaultCommand: "check",
		Flags:          append(loggingFlags(), configFlags()...),
		Before:         rc.before,
		After:          rc.after,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "check today and the following days once, notifying on any match",
				Action: rc.check,
			},
			{
				Name:      "parse",
				Usage:     "parse a saved listing page and print what was found",
				ArgsUsage: "FILE",
				Action:    rc.parse,
			},
			{
				Name:  "pull-golden",
				Usage: "fetch the live listing page for a date and save it as a golden fixture",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Value: "internal/listing/golden/regal-cinema-jaffna",
						Usage: "directory the page is written to as <date>.html",
					},
					&cli.StringFlag{
						Name:  "date",
						Usage: "date to pull as YYYYMMDD (default today in --timezone)",
					},
				},
				Action: rc.pullGolden,
			},
		},
	}
	return rootCmd, nil
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "debug, info, warn or error",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "text or json",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "also write logs to this file, rotated by size",
			Sources: cli.EnvVars("LOG_FILE"),
		},
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "base-url", Value: config.DefaultBaseURL, Usage: "listing page; the date is appended as /YYYYMMDD", Sources: cli.EnvVars("BASE_URL")},
		&cli.StringFlag{Name: "movie", Usage: "movie title to look for", Sources: cli.EnvVars("MOVIE_NAME")},
		&cli.StringFlag{Name: "email-from", Usage: "sender address, also the SMTP login", Sources: cli.EnvVars("EMAIL_FROM")},
		&cli.StringFlag{Name: "email-to", Usage: "recipient (default --email-from)", Sources: cli.EnvVars("EMAIL_TO")},
		&cli.StringFlag{Name: "email-pass", Usage: "SMTP password", Sources: cli.EnvVars("EMAIL_PASS")},
		&cli.StringFlag{Name: "smtp-host", Value: config.DefaultSMTPHost, Sources: cli.EnvVars("SMTP_HOST")},
		&cli.IntFlag{Name: "smtp-port", Value: config.DefaultSMTPPort, Usage: "465 uses implicit TLS, anything else STARTTLS when offered", Sources: cli.EnvVars("SMTP_PORT")},
		&cli.DurationFlag{Name: "smtp-timeout", Value: config.DefaultSMTPTimeout, Sources: cli.EnvVars("SMTP_TIMEOUT")},
		&cli.StringFlag{Name: "timezone", Value: config.DefaultTimezone, Usage: "IANA zone that decides today's date", Sources: cli.EnvVars("TIMEZONE")},
		&cli.IntFlag{Name: "days", Value: config.DefaultDays, Usage: "how many days to check starting today", Sources: cli.EnvVars("DAYS")},
		&cli.IntFlag{Name: "retry-count", Value: config.DefaultRetryCount, Usage: "fetch attempts per date", Sources: cli.EnvVars("RETRY_COUNT")},
		&cli.DurationFlag{Name: "retry-delay", Value: config.DefaultRetryDelay, Usage: "pause between fetch attempts", Sources: cli.EnvVars("RETRY_DELAY")},
		&cli.DurationFlag{Name: "wait-timeout", Value: config.DefaultWaitTimeout, Usage: "page readiness timeout", Sources: cli.EnvVars("WAIT_TIMEOUT")},
		&cli.StringFlag{Name: "fetch-mode", Value: config.DefaultFetchMode, Usage: "render (headless browser) or http", Sources: cli.EnvVars("FETCH_MODE")},
		&cli.StringFlag{Name: "match-mode", Value: config.DefaultMatchMode, Usage: "exact, substring or fuzzy", Sources: cli.EnvVars("MATCH_MODE")},
		&cli.StringSliceFlag{Name: "ready-selectors", Value: config.DefaultReadySelectors, Usage: "selectors that mark a rendered page as ready", Sources: cli.EnvVars("READY_SELECTORS")},
		&cli.DurationFlag{Name: "settle-delay", Value: config.DefaultSettleDelay, Usage: "quiet period after the listing appears", Sources: cli.EnvVars("SETTLE_DELAY")},
		&cli.StringFlag{Name: "browser-bin", Usage: "Chrome binary (default: let rod download one)", Sources: cli.EnvVars("BROWSER_BIN")},
		&cli.BoolFlag{Name: "browser-no-sandbox", Usage: "disable the Chrome sandbox (containers running as root)", Sources: cli.EnvVars("BROWSER_NO_SANDBOX")},
		&cli.StringFlag{Name: "tmdb-api-key", Usage: "enables TMDB enrichment of alerts", Sources: cli.EnvVars("TMDB_API_KEY")},
		&cli.BoolFlag{Name: "dry-run", Usage: "print alerts instead of emailing them", Sources: cli.EnvVars("DRY_RUN")},
	}
}

func (rc *rootConfig) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return ctx, fmt.Errorf("invalid --log-level: %w", err)
	}

	w := cmd.Root().ErrWriter
	if w == nil {
		w = os.Stderr
	}
	if path := cmd.String("log-file"); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		}
		rc.logFile = lj
		w = io.MultiWriter(w, lj)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return ctx, fmt.Errorf("invalid --log-format %q (valid: text, json)", cmd.String("log-format"))
	}
	slog.SetDefault(slog.New(handler))
	return ctx, nil
}

func (rc *rootConfig) after(_ context.Context, _ *cli.Command) error {
	if rc.logFile != nil {
		return rc.logFile.Close()
	}
	return nil
}

func configFromFlags(cmd *cli.Command) *config.Config {
	cfg := config.Default()
	cfg.BaseURL = cmd.String("base-url")
	cfg.MovieName = cmd.String("movie")
	cfg.Timezone = cmd.String("timezone")
	cfg.Days = cmd.Int("days")
	cfg.RetryCount = cmd.Int("retry-count")
	cfg.RetryDelay = cmd.Duration("retry-delay")
	cfg.WaitTimeout = cmd.Duration("wait-timeout")
	cfg.FetchMode = cmd.String("fetch-mode")
	cfg.MatchMode = cmd.String("match-mode")
	cfg.DryRun = cmd.Bool("dry-run")
	cfg.TMDBAPIKey = cmd.String("tmdb-api-key")
	cfg.Email = config.Email{
		From:     cmd.String("email-from"),
		To:       cmd.String("email-to"),
		Password: cmd.String("email-pass"),
		SMTPHost: cmd.String("smtp-host"),
		SMTPPort: cmd.Int("smtp-port"),
		Timeout:  cmd.Duration("smtp-timeout"),
	}
	cfg.Browser = config.Browser{
		Bin:            cmd.String("browser-bin"),
		NoSandbox:      cmd.Bool("browser-no-sandbox"),
		ReadySelectors: cmd.StringSlice("ready-selectors"),
		SettleDelay:    cmd.Duration("settle-delay"),
	}
	return cfg
}

func (rc *rootConfig) buildFetcher(cfg *config.Config) internal.Fetcher {
	engine := rc.engine
	if engine == nil {
		switch cfg.FetchMode {
		case config.FetchModeHTTP:
			engine = fetch.HTTP(fetch.HTTPWithTimeout(cfg.WaitTimeout))
		default:
			engine = browser.Headless(
				browser.WithBin(cfg.Browser.Bin),
				browser.WithNoSandbox(cfg.Browser.NoSandbox),
				browser.WithReadySelectors(cfg.Browser.ReadySelectors...),
				browser.WithWaitTimeout(cfg.WaitTimeout),
				browser.WithSettleDelay(cfg.Browser.SettleDelay),
			)
		}
	}
	return fetch.New(engine,
		fetch.WithAttempts(cfg.RetryCount),
		fetch.WithDelay(cfg.RetryDelay),
		fetch.WithAttemptTimeout(cfg.AttemptTimeout()),
		fetch.WithClock(rc.now),
	)
}

func (rc *rootConfig) buildNotifier(cmd *cli.Command, cfg *config.Config) internal.Notifier {
	n := rc.notifier
	if n == nil {
		if cfg.DryRun {
			n = notify.Log(cmd.Root().Writer)
		} else {
			n = notify.Email(cfg.Email)
		}
	}
	return notify.Dedupe(n)
}

func enrichmentProviders(cfg *config.Config) []internal.EnrichmentProvider {
	if cfg.TMDBAPIKey == "" {
		slog.Debug("TMDB enrichment not configured", "reason", "no api key")
		return nil
	}
	provider, err := enrichment.TMDB(cfg.TMDBAPIKey)
	if err != nil {
		slog.Info("TMDB enrichment not configured", "reason", "client init failed", "error", err)
		return nil
	}
	slog.Info("TMDB enrichment configured")
	return []internal.EnrichmentProvider{provider}
}

// check is the default command. Only configuration problems make it fail; a date that could not
// be checked is reported and the run still succeeds.
func (rc *rootConfig) check(ctx context.Context, cmd *cli.Command) error {
	cfg := configFromFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c := checker.New(cfg, rc.buildFetcher(cfg), rc.buildNotifier(cmd, cfg),
		checker.WithClock(rc.now),
		checker.WithEnrichment(enrichmentProviders(cfg)...),
	)
	reports := c.Run(ctx)
	return writeReports(cmd.Root().Writer, reports)
}

func writeReports(w io.Writer, reports []checker.Report) error {
	for _, r := range reports {
		var detail string
		switch r.Outcome {
		case checker.OutcomeFound:
			detail = strings.Join(r.Result.MatchedShowtimes, ", ")
			if r.Notified {
				detail += " (notified)"
			} else if r.DeliveryErr != nil {
				detail += " (notification failed)"
			}
		case checker.OutcomeFetchFailed:
			kind, _ := internal.FetchErrorKindOf(r.Err)
			detail = kind.String()
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", r.Result.Date, r.Outcome, detail); err != nil {
			return err
		}
	}
	return nil
}

func (rc *rootConfig) parse(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("parse: FILE is required")
	}
	html, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	policy, err := match.ParsePolicy(cmd.String("match-mode"))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	w := cmd.Root().Writer
	listings := listing.New().Parse(string(html))
	for _, l := range listings {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", l.MovieTitle, strings.Join(l.Showtimes, ", ")); err != nil {
			return err
		}
	}
	if movie := strings.TrimSpace(cmd.String("movie")); movie != "" {
		showtimes := match.New(policy).Match(listings, movie)
		if _, err := fmt.Fprintf(w, "match %q (%s): %s\n", movie, policy, strings.Join(showtimes, ", ")); err != nil {
			return err
		}
	}
	slog.Debug("parse", "file", path, "listings", len(listings))
	return nil
}

func (rc *rootConfig) pullGolden(ctx context.Context, cmd *cli.Command) error {
	cfg := configFromFlags(cmd)
	if err := cfg.ValidateFetch(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	date := cfg.Dates(rc.now())[0]
	if s := cmd.String("date"); s != "" {
		d, err := time.ParseInLocation(internal.DateLayout, s, cfg.Location())
		if err != nil {
			return fmt.Errorf("invalid --date (expected YYYYMMDD): %w", err)
		}
		date = d
	}

	url := config.PageURL(cfg.BaseURL, date)
	page, err := rc.buildFetcher(cfg).Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("pull-golden: %w", err)
	}
	dir := cmd.String("dir")
	dateStr := date.Format(internal.DateLayout)
	if err := listing.WriteGolden(dir, dateStr, page.HTML); err != nil {
		return fmt.Errorf("pull-golden: %w", err)
	}
	slog.Info("pull-golden: wrote page", "url", url, "dir", dir, "date", dateStr, "engine", page.Engine,
		"listings", len(listing.New().Parse(page.HTML)))
	return nil
}
