// Package fetch obtains listing pages with bounded retries.
//
// Every attempt opens a brand new engine session and closes it before the next attempt
// starts (or Fetch returns), so state corrupted by one attempt never leaks into another.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/drewfead/showtime-watcher/internal"
)

const (
	DefaultAttempts       = 3
	DefaultDelay          = 5 * time.Second
	DefaultAttemptTimeout = 60 * time.Second
)

type fetcher struct {
	engine         internal.Engine
	attempts       int
	delay          time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
}

// Option applies configuration to a Fetcher.
type Option func(*fetcher)

// WithAttempts sets how many times a URL is tried before giving up. Values below 1 are ignored.
func WithAttempts(n int) Option {
	return func(f *fetcher) {
		if n >= 1 {
			f.attempts = n
		}
	}
}

// WithDelay sets the fixed pause between attempts.
func WithDelay(d time.Duration) Option {
	return func(f *fetcher) {
		if d >= 0 {
			f.delay = d
		}
	}
}

// WithAttemptTimeout bounds one whole attempt: session start, navigation and readiness wait.
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *fetcher) {
		if d > 0 {
			f.attemptTimeout = d
		}
	}
}

// WithClock overrides the clock used to stamp RawPage.FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(f *fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func New(engine internal.Engine, opts ...Option) internal.Fetcher {
	f := &fetcher{
		engine:         engine,
		attempts:       DefaultAttempts,
		delay:          DefaultDelay,
		attemptTimeout: DefaultAttemptTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch tries url up to the configured number of attempts. The returned error is the last
// attempt's *internal.FetchError.
func (f *fetcher) Fetch(ctx context.Context, url string) (internal.RawPage, error) {
	state := internal.RetryState{}
	page, err := retry.DoWithData(
		func() (internal.RawPage, error) {
			state.Attempt++
			page, err := f.attempt(ctx, url)
			if err != nil {
				state.LastError = err
			}
			return page, err
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.attempts)),
		retry.Delay(f.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			kind, _ := internal.FetchErrorKindOf(err)
			slog.Warn("fetch: attempt failed",
				"url", url,
				"engine", f.engine.Name(),
				"attempt", n+1,
				"of", f.attempts,
				"kind", kind.String(),
				"error", err,
			)
		}),
	)
	if err != nil {
		slog.Debug("fetch: giving up", "url", url, "attempts", state.Attempt, "last_error", state.LastError)
		return internal.RawPage{}, fmt.Errorf("after %d attempts: %w", state.Attempt, err)
	}
	slog.Debug("fetch: ok", "url", url, "engine", f.engine.Name(), "attempts", state.Attempt, "bytes", len(page.HTML))
	return page, nil
}

// attempt owns one session from Open to Close.
func (f *fetcher) attempt(ctx context.Context, url string) (internal.RawPage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	session, err := f.engine.Open(ctx)
	if err != nil {
		return internal.RawPage{}, classify(url, fmt.Errorf("open %s session: %w", f.engine.Name(), err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("fetch: failed to close session", "engine", f.engine.Name(), "error", err)
		}
	}()

	html, err := session.Load(ctx, url)
	if err != nil {
		return internal.RawPage{}, classify(url, err)
	}
	return internal.RawPage{
		HTML:      html,
		SourceURL: url,
		FetchedAt: f.now(),
		Engine:    f.engine.Name(),
	}, nil
}

// classify turns any error into a *internal.FetchError, keeping one that is already typed.
func classify(url string, err error) error {
	var fe *internal.FetchError
	if errors.As(err, &fe) {
		if fe.URL == "" {
			fe.URL = url
		}
		return err
	}
	kind := internal.FetchErrorNetwork
	if isTimeout(err) {
		kind = internal.FetchErrorTimeout
	}
	return &internal.FetchError{Kind: kind, URL: url, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
