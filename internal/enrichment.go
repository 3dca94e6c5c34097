package internal

import "context"

type EnrichmentProvider interface {
	// Enrich makes a best-effort attempt to add movie metadata to the alert
	Enrich(ctx context.Context, alert Alert) (Alert, error)
}

type Notifier interface {
	// Notify delivers an alert for a found showtime result. Failures are returned as *DeliveryError.
	Notify(ctx context.Context, alert Alert) error
}
