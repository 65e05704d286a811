// Package notifications publishes dataset lifecycle events to the platform
// event bus. Downstream consumers (reporting UI cache invalidation, alerting)
// subscribe to the bus; this package only produces.
package notifications

import (
	"context"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// Notifier publishes one DatasetEvent per dataset state transition, error
// transitions included. Implementations must be safe for concurrent use.
//
// Publishing is best-effort: callers log a failed Publish and move on, the
// refresh pipeline never fails because an event could not be delivered.
type Notifier interface {
	Publish(ctx context.Context, evt types.DatasetEvent) error
}

// NopNotifier discards all events. Used by CLI tools and tests where no
// event bus is wired.
type NopNotifier struct{}

// Publish discards the event.
func (NopNotifier) Publish(context.Context, types.DatasetEvent) error { return nil }

var _ Notifier = NopNotifier{}
