// Package listing turns a showtimes page into (movie title, showtimes) pairs.
//
// Parsing never fails. The markup belongs to someone else and changes without notice,
// so anything missing or unexpected degrades to fewer (or zero) listings.
package listing

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/drewfead/showtime-watcher/internal"
)

// Strategy extracts listings from one known markup shape.
// found is false when the shape's container isn't on the page, so the next strategy gets a turn.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document) (listings []internal.Listing, found bool)
}

// Selectors describes a markup shape by CSS selectors. Item, Title and Showtimes are scoped
// to the enclosing container and item respectively.
type Selectors struct {
	Label     string
	Container string
	Item      string
	Title     string
	Showtimes string
}

func (s Selectors) Name() string {
	return s.Label
}

func (s Selectors) Extract(doc *goquery.Document) ([]internal.Listing, bool) {
	container := doc.Find(s.Container).First()
	if container.Length() == 0 {
		return nil, false
	}
	listings := []internal.Listing{}
	container.Find(s.Item).Each(func(_ int, item *goquery.Selection) {
		titleSel := item.Find(s.Title).First()
		if titleSel.Length() == 0 {
			return
		}
		title := cleanText(titleSel.Text())
		if title == "" {
			return
		}
		showtimes := []string{}
		item.Find(s.Showtimes).Each(func(_ int, st *goquery.Selection) {
			if label := cleanText(st.Text()); label != "" {
				showtimes = append(showtimes, label)
			}
		})
		listings = append(listings, internal.Listing{MovieTitle: title, Showtimes: showtimes})
	})
	return listings, true
}

// DefaultStrategies are the markup shapes seen on the listing page, most common first.
var DefaultStrategies = []Strategy{
	Selectors{
		Label:     "show-events-list",
		Container: "ul#showEvents",
		Item:      "li.list",
		Title:     "span.__name",
		Showtimes: "div._available a",
	},
	Selectors{
		Label:     "show-events-block",
		Container: "div#showEvents",
		Item:      "div.list",
		Title:     ".__name",
		Showtimes: "._available a, ._available .__showtime",
	},
	Selectors{
		Label:     "testid",
		Container: "[data-testid=showtimes-list]",
		Item:      "[data-testid=event-item]",
		Title:     "[data-testid=event-name]",
		Showtimes: "[data-testid=showtimes-available] [data-testid=showtime]",
	},
}

// ContainerSelectors lists the container selector of every default strategy that declares one.
// A rendered page is considered ready once any of them is present.
func ContainerSelectors() []string {
	var out []string
	for _, s := range DefaultStrategies {
		if sel, ok := s.(Selectors); ok && sel.Container != "" {
			out = append(out, sel.Container)
		}
	}
	return out
}

type Parser struct {
	strategies []Strategy
}

// New returns a Parser that tries strategies in order; with none given it uses DefaultStrategies.
func New(strategies ...Strategy) *Parser {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Parser{strategies: strategies}
}

// Parse returns the listings of the first strategy whose container is present.
// The result is never nil.
func (p *Parser) Parse(html string) []internal.Listing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		slog.Warn("listing: unreadable html", "error", err)
		return []internal.Listing{}
	}
	for _, s := range p.strategies {
		listings, found := s.Extract(doc)
		if !found {
			continue
		}
		slog.Debug("listing: parsed", "strategy", s.Name(), "listings", len(listings))
		if listings == nil {
			listings = []internal.Listing{}
		}
		return listings
	}
	slog.Debug("listing: no known container on page", "tried", len(p.strategies))
	return []internal.Listing{}
}

// cleanText trims and collapses runs of whitespace (markup indentation, &nbsp; line wraps).
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
