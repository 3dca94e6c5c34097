// Package browser implements the render engine: pages are loaded in headless Chrome so that
// listings populated by client-side scripts are present in the extracted HTML.
//
// Every session launches its own browser process with a throwaway profile directory and
// kills it on Close. Nothing survives from one session to the next.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/httputil"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	DefaultWaitTimeout = 20 * time.Second
	DefaultSettleDelay = 2 * time.Second

	consentClickTimeout = 2 * time.Second
	documentStatusGrace = 2 * time.Second
)

// DefaultConsentSelectors match the accept buttons of the cookie banners seen on ticketing sites.
var DefaultConsentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#wzrk-confirm",
	"button#accept-cookies",
	"button[aria-label='Accept cookies']",
	".cookie-consent button.accept",
	".cc-allow",
}

type renderEngine struct {
	bin              string
	noSandbox        bool
	readySelectors   []string
	consentSelectors []string
	waitTimeout      time.Duration
	settle           time.Duration
	profile          func() httputil.Profile
}

// Option applies configuration to the render engine.
type Option func(*renderEngine)

// WithBin uses a specific Chrome/Chromium binary instead of the one rod downloads.
func WithBin(path string) Option {
	return func(e *renderEngine) {
		e.bin = path
	}
}

// WithNoSandbox disables the Chrome sandbox, which is required when running as root in containers.
func WithNoSandbox(enable bool) Option {
	return func(e *renderEngine) {
		e.noSandbox = enable
	}
}

// WithReadySelectors sets the selectors raced against each other to decide the page is ready.
// With none, readiness falls back to waiting for the page to go quiet for the settle delay.
func WithReadySelectors(selectors ...string) Option {
	return func(e *renderEngine) {
		e.readySelectors = append([]string(nil), selectors...)
	}
}

// WithConsentSelectors replaces DefaultConsentSelectors.
func WithConsentSelectors(selectors ...string) Option {
	return func(e *renderEngine) {
		e.consentSelectors = append([]string(nil), selectors...)
	}
}

// WithWaitTimeout bounds the readiness wait.
func WithWaitTimeout(d time.Duration) Option {
	return func(e *renderEngine) {
		if d > 0 {
			e.waitTimeout = d
		}
	}
}

// WithSettleDelay is how long the DOM must stay quiet after the listing container shows up.
func WithSettleDelay(d time.Duration) Option {
	return func(e *renderEngine) {
		if d >= 0 {
			e.settle = d
		}
	}
}

// WithProfile fixes the browser profile instead of rotating it.
func WithProfile(p httputil.Profile) Option {
	return func(e *renderEngine) {
		e.profile = func() httputil.Profile { return p }
	}
}

// Headless returns the render engine.
func Headless(opts ...Option) internal.Engine {
	e := &renderEngine{
		consentSelectors: DefaultConsentSelectors,
		waitTimeout:      DefaultWaitTimeout,
		settle:           DefaultSettleDelay,
		profile:          httputil.RandomProfile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *renderEngine) Name() string {
	return "render"
}

// Open launches a fresh browser and prepares one stealth page in it.
func (e *renderEngine) Open(ctx context.Context) (internal.Session, error) {
	l := launcher.New().
		Context(ctx).
		Logger(newRodLauncherLogger()).
		Leakless(false).
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	if e.bin != "" {
		l = l.Bin(e.bin)
	}
	if e.noSandbox {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		stopLauncher(l)
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		stopLauncher(l)
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	s := &renderSession{engine: e, launcher: l, browser: browser}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	s.page = page

	profile := e.profile()
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      profile.UserAgent,
		AcceptLanguage: profile.AcceptLanguage,
	}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	slog.Debug("browser: session opened", "profile", profile.Name, "pid", l.PID())
	return s, nil
}

// stopLauncher kills a browser process that may or may not have started.
func stopLauncher(l *launcher.Launcher) {
	if l.PID() == 0 {
		return
	}
	l.Kill()
	l.Cleanup()
}

type renderSession struct {
	engine   *renderEngine
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// Load navigates, clicks away a cookie banner if one is showing, then waits for the listing
// container before returning the rendered HTML.
func (s *renderSession) Load(ctx context.Context, url string) (string, error) {
	page := s.page.Context(ctx)

	status := make(chan int, 1)
	go page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status <- e.Response.Status
		return true
	})()

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}

	code := documentStatus(ctx, status)
	if code >= http.StatusBadRequest {
		html, _ := page.HTML()
		if httputil.LooksBlocked(code, html) {
			return "", &internal.FetchError{Kind: internal.FetchErrorBlocked, URL: url, StatusCode: code}
		}
		return "", &internal.FetchError{Kind: internal.FetchErrorHTTPStatus, URL: url, StatusCode: code}
	}

	s.dismissConsent(page)

	if err := s.waitReady(page); err != nil {
		html, _ := page.HTML()
		if httputil.LooksBlocked(http.StatusOK, html) {
			return "", &internal.FetchError{Kind: internal.FetchErrorBlocked, URL: url, Err: err}
		}
		return "", &internal.FetchError{Kind: internal.FetchErrorTimeout, URL: url, Err: fmt.Errorf("wait for listing: %w", err)}
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered html: %w", err)
	}
	if httputil.LooksBlocked(http.StatusOK, html) {
		return "", &internal.FetchError{Kind: internal.FetchErrorBlocked, URL: url}
	}
	return html, nil
}

// documentStatus returns the main document's HTTP status, or 0 when it was not observed in time.
func documentStatus(ctx context.Context, status <-chan int) int {
	timer := time.NewTimer(documentStatusGrace)
	defer timer.Stop()
	select {
	case code := <-status:
		return code
	case <-timer.C:
		return 0
	case <-ctx.Done():
		return 0
	}
}

// dismissConsent clicks the first visible consent button. Failures are ignored.
func (s *renderSession) dismissConsent(page *rod.Page) {
	for _, sel := range s.engine.consentSelectors {
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		if err := el.Timeout(consentClickTimeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
			slog.Debug("browser: consent click failed", "selector", sel, "error", err)
			continue
		}
		slog.Debug("browser: dismissed consent banner", "selector", sel)
		return
	}
}

// waitReady blocks until one of the ready selectors matches and the DOM settles, or until
// the wait timeout. Without selectors it waits for the page to be stable instead.
func (s *renderSession) waitReady(page *rod.Page) error {
	page = page.Timeout(s.engine.waitTimeout)
	defer page.CancelTimeout()

	if len(s.engine.readySelectors) == 0 {
		return page.WaitStable(max(s.engine.settle, time.Second))
	}

	race := page.Race()
	for _, sel := range s.engine.readySelectors {
		race = race.Element(sel)
	}
	if _, err := race.Do(); err != nil {
		return err
	}
	if s.engine.settle > 0 {
		if err := page.WaitDOMStable(s.engine.settle, 0); err != nil {
			slog.Debug("browser: dom did not settle, using what is there", "error", err)
		}
	}
	return nil
}

// Close tears down the page, the browser and its process.
func (s *renderSession) Close() error {
	var err error
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		if cerr := s.browser.Close(); cerr != nil {
			err = fmt.Errorf("close browser: %w", cerr)
		}
	}
	stopLauncher(s.launcher)
	return err
}
