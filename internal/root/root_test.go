package root

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/checker"
	"github.com/drewfead/showtime-watcher/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestUnit_WriteReports(t *testing.T) {
	reports := []checker.Report{
		{
			Outcome:  checker.OutcomeFound,
			Result:   internal.NewCheckResult("20250801", "Coolie", []string{"1:00 PM", "9:00 PM"}, "u1"),
			Notified: true,
		},
		{
			Outcome:     checker.OutcomeFound,
			Result:      internal.NewCheckResult("20250802", "Coolie", []string{"1:00 PM"}, "u2"),
			DeliveryErr: errors.New("smtp down"),
		},
		{
			Outcome: checker.OutcomeNotFound,
			Result:  internal.NewCheckResult("20250803", "Coolie", nil, "u3"),
		},
		{
			Outcome: checker.OutcomeFetchFailed,
			Result:  internal.NewCheckResult("20250804", "Coolie", nil, "u4"),
			Err:     &internal.FetchError{Kind: internal.FetchErrorBlocked, URL: "u4"},
		},
	}

	var out bytes.Buffer
	require.NoError(t, writeReports(&out, reports))
	assert.Equal(t,
		"20250801\tfound\t1:00 PM, 9:00 PM (notified)\n"+
			"20250802\tfound\t1:00 PM (notification failed)\n"+
			"20250803\tnot_found\t\n"+
			"20250804\tfetch_failed\tblocked_by_anti_bot\n",
		out.String())
}

// runWith runs a throwaway command carrying the root flags and hands the parsed command to inspect.
func runWith(t *testing.T, args []string, inspect func(*cli.Command)) {
	t.Helper()
	cmd := &cli.Command{
		Name:  "test",
		Flags: append(loggingFlags(), configFlags()...),
		Action: func(_ context.Context, cmd *cli.Command) error {
			inspect(cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(t.Context(), append([]string{"test"}, args...)))
}

func TestUnit_ConfigFromFlags_Defaults(t *testing.T) {
	t.Setenv("MOVIE_NAME", "Coolie")
	t.Setenv("READY_SELECTORS", "#a,#b")
	runWith(t, nil, func(cmd *cli.Command) {
		cfg := configFromFlags(cmd)
		assert.Equal(t, "Coolie", cfg.MovieName, "read from MOVIE_NAME")
		assert.Equal(t, config.DefaultBaseURL, cfg.BaseURL)
		assert.Equal(t, config.DefaultTimezone, cfg.Timezone)
		assert.Equal(t, config.DefaultRetryCount, cfg.RetryCount)
		assert.Equal(t, config.DefaultWaitTimeout, cfg.WaitTimeout)
		assert.Equal(t, config.DefaultSMTPPort, cfg.Email.SMTPPort)
		assert.Equal(t, []string{"#a", "#b"}, cfg.Browser.ReadySelectors)
		assert.False(t, cfg.DryRun)
	})
}

func TestUnit_ConfigFromFlags_Overrides(t *testing.T) {
	runWith(t, []string{
		"--movie", "Maareesan",
		"--fetch-mode", "http",
		"--match-mode", "fuzzy",
		"--retry-count", "5",
		"--retry-delay", "250ms",
		"--smtp-port", "587",
		"--days", "3",
		"--dry-run",
	}, func(cmd *cli.Command) {
		cfg := configFromFlags(cmd)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "Maareesan", cfg.MovieName)
		assert.Equal(t, config.FetchModeHTTP, cfg.FetchMode)
		assert.Equal(t, 5, cfg.RetryCount)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
		assert.Equal(t, 587, cfg.Email.SMTPPort)
		assert.Equal(t, 3, cfg.Days)
		assert.True(t, cfg.DryRun)
	})
}

func TestUnit_Root_InvalidLogLevel(t *testing.T) {
	rootCmd, err := Root(t.Context())
	require.NoError(t, err)
	rootCmd.Writer = io.Discard
	rootCmd.ErrWriter = io.Discard

	err = rootCmd.Run(t.Context(), []string{"showtime-watcher", "--log-level", "loud", "parse", "x.html"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

func TestUnit_Root_LogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "watcher.log")
	rootCmd, err := Root(t.Context())
	require.NoError(t, err)
	rootCmd.Writer = io.Discard
	rootCmd.ErrWriter = io.Discard

	err = rootCmd.Run(t.Context(), []string{
		"showtime-watcher", "--log-file", logFile, "--log-level", "debug", "--log-format", "json",
		"parse", filepath.Join("..", "listing", "golden", "regal-cinema-jaffna", "20250801.html"),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"parse"`)
}

// TestPrep_PullGolden refreshes the golden listing page from the live site. FETCH_MODE and the
// browser variables apply as they do for a normal run.
func TestPrep_PullGolden(t *testing.T) {
	if os.Getenv("PREP") != "1" {
		t.Skip("PREP is not set")
	}

	rootCmd, err := Root(t.Context())
	require.NoError(t, err)
	dir := filepath.Join("..", "listing", "golden", "regal-cinema-jaffna")
	err = rootCmd.Run(t.Context(), []string{"showtime-watcher", "pull-golden", "--dir", dir})
	require.NoError(t, err, "pull-golden")
	t.Logf("wrote golden page to %s", dir)
}
