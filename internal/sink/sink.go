// Package sink fans correlated events out to configured sinks.
//
// The router reads the sink list off the event's correlation record and
// schedules one independent fire-and-forget enqueue task per recognized
// sink. Unrecognized sink identifiers are skipped silently: a worker
// running older sink support must not crash because a tenant configured
// a newer sink.
package sink

import (
	"context"

	"meniscus/internal/event"
)

// Sink receives correlated events for one backend destination. Enqueue
// publishes the event onto the sink's ingestion queue; it must be safe
// to retry until the publish is acknowledged, and must classify broker
// failures as communication faults so the task runner reschedules them.
type Sink interface {
	Name() string
	Enqueue(ctx context.Context, ev *event.Event) error
}
