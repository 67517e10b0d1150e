// Package events carries alert events from the pipeline jobs to the
// dispatcher. Two transports implement the same Bus contract: an in-process
// channel for single-node deployments and a Redis Streams bus when REDIS_ADDR
// is configured. Delivery is at-least-once on both; handlers must tolerate
// replays.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies the class of an alert event. The values are wire
// constants; subscribers match on them.
type Type string

const (
	// TypeNewCitation fires when a platform cites a site for the first time.
	TypeNewCitation Type = "citation/new.detected"
	// TypeVisibilityDrop fires when a site's queries won regressed past the
	// configured threshold.
	TypeVisibilityDrop Type = "visibility/drop.detected"
	// TypeCompetitorGain fires when a tracked competitor's citation count
	// increased since the last check.
	TypeCompetitorGain Type = "competitor/change.detected"
	// TypeMonthlyReport fires when a site's monthly checkpoint is ready to
	// be reported.
	TypeMonthlyReport Type = "report/monthly.due"
)

// Event is the envelope published on the bus. It carries enough context for
// the dispatcher to render a notification without re-querying the pipeline;
// the only lookups left are the tenant's contact details and preferences.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	SiteID int64  `json:"site_id"`
	OrgID  int64  `json:"org_id"`
	Domain string `json:"domain"`

	// Type-specific context. Platform is set for new citations, Competitor
	// for competitor gains, Previous/Current/Delta for drops and gains, and
	// Period for monthly reports.
	Platform   string `json:"platform,omitempty"`
	Competitor string `json:"competitor,omitempty"`
	Previous   int    `json:"previous,omitempty"`
	Current    int    `json:"current,omitempty"`
	Delta      int    `json:"delta,omitempty"`
	Period     string `json:"period,omitempty"`
}

// Handler consumes one event. Returning an error leaves the event
// unacknowledged on transports that support redelivery.
type Handler func(ctx context.Context, ev Event) error

// Bus is the fire-and-forget event transport between jobs and dispatcher.
type Bus interface {
	// Publish hands an event to the bus. The envelope's ID and OccurredAt
	// are filled in when the caller left them zero.
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers the handler and starts consuming in the
	// background until ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, handler Handler) error
	// Close stops the bus and releases its resources.
	Close() error
}

// stamp fills the envelope fields every transport guarantees.
func stamp(ev Event) Event {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev
}
