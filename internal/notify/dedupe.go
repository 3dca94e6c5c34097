package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultDedupeEntries = 64
	defaultDedupeTTL     = 24 * time.Hour
)

// alertNamespace scopes alert keys so they never collide with other SHA1 UUIDs.
var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("showtime-watcher/alert"))

// AlertKey identifies an alert by date, movie and the exact showtimes found. The movie name is
// case-folded; showtime order matters since a reordered page is still a change worth reporting.
func AlertKey(alert internal.Alert) uuid.UUID {
	r := alert.Result
	parts := append([]string{r.Date, strings.ToLower(strings.TrimSpace(r.MovieName))}, r.MatchedShowtimes...)
	return uuid.NewSHA1(alertNamespace, []byte(strings.Join(parts, "\x1f")))
}

type dedupeNotifier struct {
	next internal.Notifier
	sent *expirable.LRU[uuid.UUID, time.Time]
	now  func() time.Time
}

// DedupeOption applies configuration to Dedupe.
type DedupeOption func(*dedupeConfig)

type dedupeConfig struct {
	size int
	ttl  time.Duration
	now  func() time.Time
}

// WithDedupeWindow sets how many alerts are remembered and for how long.
func WithDedupeWindow(size int, ttl time.Duration) DedupeOption {
	return func(c *dedupeConfig) {
		if size > 0 {
			c.size = size
		}
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDedupeClock overrides the clock used to stamp delivered alerts.
func WithDedupeClock(now func() time.Time) DedupeOption {
	return func(c *dedupeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Dedupe wraps next so an alert whose key was already delivered is dropped. Failed deliveries
// are not remembered, so the same alert can be tried again.
func Dedupe(next internal.Notifier, opts ...DedupeOption) internal.Notifier {
	c := dedupeConfig{size: defaultDedupeEntries, ttl: defaultDedupeTTL, now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return &dedupeNotifier{
		next: next,
		sent: expirable.NewLRU[uuid.UUID, time.Time](c.size, nil, c.ttl),
		now:  c.now,
	}
}

func (n *dedupeNotifier) Notify(ctx context.Context, alert internal.Alert) error {
	key := AlertKey(alert)
	if at, ok := n.sent.Get(key); ok {
		slog.Info("notify: duplicate alert suppressed",
			"alert_key", key.String(),
			"date", alert.Result.Date,
			"first_sent_at", at,
		)
		return nil
	}
	if err := n.next.Notify(ctx, alert); err != nil {
		return err
	}
	n.sent.Add(key, n.now())
	return nil
}
