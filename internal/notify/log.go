package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/drewfead/showtime-watcher/internal"
)

type logNotifier struct {
	w io.Writer
}

// Log returns the dry-run notifier: the alert is logged and the message that would have been
// emailed is written to w (skipped when w is nil).
func Log(w io.Writer) internal.Notifier {
	return &logNotifier{w: w}
}

func (n *logNotifier) Notify(_ context.Context, alert internal.Alert) error {
	slog.Info("notify: dry run, not sending",
		"date", alert.Result.Date,
		"movie", alert.Result.MovieName,
		"showtimes", alert.Result.Showtimes(),
		"url", alert.Result.PageURL,
	)
	if n.w == nil {
		return nil
	}
	if _, err := fmt.Fprintf(n.w, "Subject: %s\n\n%s", Subject(alert), Body(alert)); err != nil {
		return &internal.DeliveryError{Notifier: "log", Err: err}
	}
	return nil
}
