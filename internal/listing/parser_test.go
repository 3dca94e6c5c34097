package listing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/drewfead/showtime-watcher/internal"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readShape(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(goldenDir, "shapes", name))
	require.NoError(t, err, "ReadFile")
	return string(data)
}

func readDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(readShape(t, name)))
	require.NoError(t, err, "NewDocumentFromReader")
	return doc
}

func TestUnit_Parse_GoldenPage(t *testing.T) {
	data, err := os.ReadFile(filepath.Join(goldenDir, "regal-cinema-jaffna", "20250801.html"))
	require.NoError(t, err)

	got := New().Parse(string(data))
	want := []internal.Listing{
		{MovieTitle: "Thalaivan Thalaivii", Showtimes: []string{"10:30 AM", "6:45 PM"}},
		{MovieTitle: "Coolie", Showtimes: []string{"1:00 PM"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnit_Strategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		file     string
		want     []internal.Listing
	}{
		{
			name:     "list shape skips untitled items and keeps empty showtimes",
			strategy: DefaultStrategies[0],
			file:     "show-events-list.html",
			want: []internal.Listing{
				{MovieTitle: "Thalaivan Thalaivii", Showtimes: []string{"10:30 AM", "6:45 PM", "6:45 PM"}},
				{MovieTitle: "Maareesan", Showtimes: []string{}},
				{MovieTitle: "Other Movie", Showtimes: []string{"1:00 PM"}},
			},
		},
		{
			name:     "block shape",
			strategy: DefaultStrategies[1],
			file:     "show-events-block.html",
			want: []internal.Listing{
				{MovieTitle: "Thalaivan Thalaivii (Tamil)", Showtimes: []string{"11:00 AM", "7:30 PM"}},
				{MovieTitle: "Other Movie", Showtimes: []string{}},
			},
		},
		{
			name:     "testid shape ignores sold out",
			strategy: DefaultStrategies[2],
			file:     "testid.html",
			want: []internal.Listing{
				{MovieTitle: "Thalaivan Thalaivii", Showtimes: []string{"10:30 AM", "6:45 PM"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := tt.strategy.Extract(readDoc(t, tt.file))
			require.True(t, found, "container should be found")
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnit_Strategies_ContainerMissing(t *testing.T) {
	doc := readDoc(t, "no-listings.html")
	for _, s := range DefaultStrategies {
		t.Run(s.Name(), func(t *testing.T) {
			got, found := s.Extract(doc)
			assert.False(t, found)
			assert.Empty(t, got)
		})
	}
}

func TestUnit_Parse_FirstMatchingStrategyWins(t *testing.T) {
	got := New().Parse(readShape(t, "both-shapes.html"))
	require.Len(t, got, 1)
	assert.Equal(t, "From List Shape", got[0].MovieTitle)

	got = New(DefaultStrategies[2], DefaultStrategies[0]).Parse(readShape(t, "both-shapes.html"))
	require.Len(t, got, 1)
	assert.Equal(t, "From Testid Shape", got[0].MovieTitle)
	assert.Empty(t, got[0].Showtimes)
}

func TestUnit_Parse_NeverFails(t *testing.T) {
	inputs := map[string]string{
		"empty":       "",
		"plain text":  "service temporarily unavailable",
		"no listings": readShape(t, "no-listings.html"),
		"broken":      "<ul id=\"showEvents\"><li class=\"list\"><span class=\"__name\">",
		"binary":      "\x00\x01\x02<<<>>>",
		"json":        `{"showEvents": []}`,
	}
	for name, html := range inputs {
		t.Run(name, func(t *testing.T) {
			got := New().Parse(html)
			require.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestUnit_ContainerSelectors(t *testing.T) {
	assert.Equal(t, []string{"ul#showEvents", "div#showEvents", "[data-testid=showtimes-list]"}, ContainerSelectors())
}
