// Package match picks the target movie's showtimes out of parsed listings.
//
// Both sides are trimmed and lower-cased at comparison time; the configured name is never
// folded when it is loaded, so the original spelling is what shows up in alerts.
package match

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/drewfead/showtime-watcher/internal"
)

type Policy string

const (
	// PolicyExact matches when the trimmed, lower-cased title equals the target.
	PolicyExact Policy = "exact"
	// PolicySubstring matches when the title contains the target, e.g. "Thalaivan Thalaivii (Tamil)".
	PolicySubstring Policy = "substring"
	// PolicyFuzzy matches when the Jaro-Winkler similarity reaches FuzzyThreshold.
	PolicyFuzzy Policy = "fuzzy"
)

// FuzzyThreshold is the minimum Jaro-Winkler similarity for PolicyFuzzy.
const FuzzyThreshold = 0.92

var ErrUnknownPolicy = errors.New("unknown match policy")

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyExact:
		return PolicyExact, nil
	case PolicySubstring, "contains":
		return PolicySubstring, nil
	case PolicyFuzzy:
		return PolicyFuzzy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

type Matcher struct {
	policy Policy
}

func New(policy Policy) *Matcher {
	if policy == "" {
		policy = PolicyExact
	}
	return &Matcher{policy: policy}
}

func (m *Matcher) Policy() Policy {
	return m.policy
}

// Matches reports whether a listing title qualifies for target under the matcher's policy.
func (m *Matcher) Matches(title, target string) bool {
	t := normalize(target)
	if t == "" {
		return false
	}
	got := normalize(title)
	switch m.policy {
	case PolicySubstring:
		return strings.Contains(got, t)
	case PolicyFuzzy:
		return got == t || matchr.JaroWinkler(got, t, false) >= FuzzyThreshold
	default:
		return got == t
	}
}

// Match aggregates the showtimes of every qualifying listing, in listing order then item order.
// Duplicate labels are kept. No match yields an empty, non-nil slice.
func (m *Matcher) Match(listings []internal.Listing, target string) []string {
	showtimes := []string{}
	for _, l := range listings {
		if !m.Matches(l.MovieTitle, target) {
			continue
		}
		showtimes = append(showtimes, l.Showtimes...)
	}
	return showtimes
}

// normalize lower-cases s and collapses runs of whitespace, the same way the parser cleans titles.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
