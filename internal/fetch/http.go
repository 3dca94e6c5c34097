package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/httputil"
	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 20 * time.Second

type httpEngine struct {
	timeout   time.Duration
	transport func() http.RoundTripper
	profile   func() httputil.Profile
}

// HTTPOption applies configuration to the plain HTTP engine.
type HTTPOption func(*httpEngine)

// HTTPWithTimeout bounds a single GET.
func HTTPWithTimeout(d time.Duration) HTTPOption {
	return func(e *httpEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// HTTPWithTransport replaces the per-session transport factory (e.g. to reach an httptest.Server).
// The factory is still called once per session.
func HTTPWithTransport(fn func() http.RoundTripper) HTTPOption {
	return func(e *httpEngine) {
		if fn != nil {
			e.transport = fn
		}
	}
}

// HTTPWithProfile fixes the header profile instead of rotating it.
func HTTPWithProfile(p httputil.Profile) HTTPOption {
	return func(e *httpEngine) {
		e.profile = func() httputil.Profile { return p }
	}
}

// HTTP returns an engine that issues a plain GET with browser-like headers. It does not run
// scripts, so it only works while the site still renders listings server side.
func HTTP(opts ...HTTPOption) internal.Engine {
	e := &httpEngine{
		timeout:   defaultHTTPTimeout,
		transport: defaultTransport,
		profile:   httputil.RandomProfile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// defaultTransport clones the default transport so the TLS tweaks below never touch the global one.
func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return cloudflarebp.AddCloudFlareByPass(&http.Transport{})
	}
	return cloudflarebp.AddCloudFlareByPass(base.Clone())
}

func (e *httpEngine) Name() string {
	return "http"
}

func (e *httpEngine) Open(_ context.Context) (internal.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	profile := e.profile()
	client := resty.New().
		SetTransport(e.transport()).
		SetCookieJar(jar).
		SetTimeout(e.timeout).
		SetHeaders(profile.Headers())
	slog.Debug("fetch: http session opened", "profile", profile.Name)
	return &httpSession{client: client}, nil
}

type httpSession struct {
	client *resty.Client
}

func (s *httpSession) Load(ctx context.Context, url string) (string, error) {
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", classify(url, fmt.Errorf("get: %w", err))
	}
	body := resp.String()
	status := resp.StatusCode()
	if httputil.LooksBlocked(status, body) {
		return "", &internal.FetchError{Kind: internal.FetchErrorBlocked, URL: url, StatusCode: status}
	}
	if status < 200 || status >= 300 {
		return "", &internal.FetchError{Kind: internal.FetchErrorHTTPStatus, URL: url, StatusCode: status}
	}
	return body, nil
}

func (s *httpSession) Close() error {
	s.client.GetClient().CloseIdleConnections()
	return nil
}
