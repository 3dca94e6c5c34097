// Package notify delivers booking alerts. The email notifier is the production sink, the log
// notifier backs dry runs, and Dedupe wraps either so an identical alert goes out only once.
package notify

import (
	"fmt"
	"strings"

	"github.com/drewfead/showtime-watcher/internal"
)

// Subject is the alert's subject line.
func Subject(alert internal.Alert) string {
	return fmt.Sprintf("Booking Alert: %s on %s", alert.Result.MovieName, alert.Result.Date)
}

// Body renders the plain-text alert. Enrichment, when present, is appended after the link.
func Body(alert internal.Alert) string {
	r := alert.Result
	var b strings.Builder
	fmt.Fprintf(&b, "Movie: %s\n", r.MovieName)
	fmt.Fprintf(&b, "Date: %s\n", r.Date)
	fmt.Fprintf(&b, "Showtimes: %s\n", strings.Join(r.MatchedShowtimes, ", "))
	fmt.Fprintf(&b, "\nOpen the page: %s\n", r.PageURL)

	m := alert.Movie
	if m.Overview == "" && len(m.Links) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "About %s\n", m.Title)
	}
	if m.Tagline != "" {
		fmt.Fprintf(&b, "%s\n", m.Tagline)
	}
	if m.Overview != "" {
		fmt.Fprintf(&b, "%s\n", m.Overview)
	}
	for _, l := range m.Links {
		fmt.Fprintf(&b, "%s: %s\n", l.Display, l.Href)
	}
	return b.String()
}
