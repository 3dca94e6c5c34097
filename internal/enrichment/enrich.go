// Package enrichment adds best-effort movie metadata to an alert before it is delivered.
// A failing provider is recorded as an audit entry and never stops the alert from going out.
package enrichment

import (
	"context"
	"log/slog"
	"time"

	"github.com/drewfead/showtime-watcher/internal"
)

// Enrich runs every provider in order, each seeing the previous one's output.
func Enrich(ctx context.Context, alert internal.Alert, providers ...internal.EnrichmentProvider) internal.Alert {
	enriched := alert
	enriched.Audits = make([]internal.EnrichmentAudit, 0, len(alert.Audits)+len(providers))
	enriched.Audits = append(enriched.Audits, alert.Audits...)
	for _, provider := range providers {
		next, err := provider.Enrich(ctx, enriched)
		if err != nil {
			enriched.Audits = append(enriched.Audits, internal.EnrichmentAudit{
				Result:  internal.EnrichmentResultFailure,
				Details: err.Error(),
				At:      time.Now(),
			})
			continue
		}
		enriched = next
	}
	for i, audit := range enriched.Audits {
		slog.Debug("enrichment audit",
			"date", alert.Result.Date,
			"movie", alert.Result.MovieName,
			"provider_index", i,
			"result", audit.Result,
			"details", audit.Details,
			"annotations", audit.Annotations,
		)
	}
	return enriched
}
