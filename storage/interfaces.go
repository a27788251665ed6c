// Package storage defines the persistence interfaces the detection core
// writes through, plus the MongoDB implementation and in-memory mocks.
// All writes from the pipeline are fire-and-forget; a failing store must
// never block or fail event processing.
package storage

import (
	"context"
	"time"

	"sentinel/core"
)

// EventStore persists ingested events for retention and replay.
type EventStore interface {
	SaveEvent(ctx context.Context, event *core.Event) error
	// DeleteEventsBefore removes events older than the cutoff and
	// returns how many were deleted.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore persists generated alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *core.Alert) error
}

// IncidentStore persists escalated incidents.
type IncidentStore interface {
	SaveIncident(ctx context.Context, incident *core.Incident) error
}

// Stores bundles the persistence interfaces the pipeline needs. Any
// field may be nil, which disables persistence for that entity.
type Stores struct {
	Events    EventStore
	Alerts    AlertStore
	Incidents IncidentStore
}
