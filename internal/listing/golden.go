package listing

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// WriteGolden saves a fetched page as <goldenDir>/<date>.html so it can be replayed by MountGolden.
func WriteGolden(goldenDir, date, html string) error {
	if err := os.MkdirAll(goldenDir, 0o750); err != nil {
		return fmt.Errorf("failed to create golden dir: %w", err)
	}
	file := filepath.Join(goldenDir, date+".html")
	if err := os.WriteFile(file, []byte(html), 0o600); err != nil {
		return fmt.Errorf("failed to write %s golden file: %w", date, err)
	}
	return nil
}

// MountGolden serves golden pages by the last path segment: GET /any/prefix/20250801 returns
// <goldenDir>/20250801.html, and 404 when there is no such file.
func MountGolden(goldenDir string) (http.Handler, error) {
	entries, err := os.ReadDir(goldenDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read golden dir: %w", err)
	}
	pages := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".html") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(goldenDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read golden file %s: %w", e.Name(), err)
		}
		pages[strings.TrimSuffix(e.Name(), ".html")] = data
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		page, ok := pages[path.Base(r.URL.Path)]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not found"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	}), nil
}
