// Package metrics holds the prometheus collectors for the correlation
// worker. The set is constructed explicitly and injected into components;
// nothing registers against a global registry at import time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the collector set shared by the pipeline, task runner, and
// flush engine.
type Metrics struct {
	Ingested    *prometheus.CounterVec // by origin: syslog / http / kafka
	Correlated  prometheus.Counter
	Dropped     *prometheus.CounterVec // by fault kind
	TaskRetries prometheus.Counter
	Enqueued    *prometheus.CounterVec // by sink
	Flushed     prometheus.Counter
	FlushFailed prometheus.Counter
}

// New creates and registers the collector set.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meniscus_events_ingested_total",
			Help: "Events entering the correlation pipeline, by origin.",
		}, []string{"origin"}),
		Correlated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meniscus_events_correlated_total",
			Help: "Events successfully enriched and dispatched.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meniscus_events_dropped_total",
			Help: "Events permanently failed, by fault kind.",
		}, []string{"kind"}),
		TaskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meniscus_task_retries_total",
			Help: "Task reschedules due to communication faults.",
		}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meniscus_sink_enqueued_total",
			Help: "Index envelopes published to sink queues, by sink.",
		}, []string{"sink"}),
		Flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meniscus_sink_flushed_total",
			Help: "Index envelopes acknowledged after a confirmed flush.",
		}),
		FlushFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meniscus_sink_flush_failed_total",
			Help: "Index envelopes left unacknowledged for redelivery.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Ingested, m.Correlated, m.Dropped, m.TaskRetries,
			m.Enqueued, m.Flushed, m.FlushFailed)
	}
	return m
}

// Nop returns an unregistered collector set for tests and optional
// injection sites.
func Nop() *Metrics {
	return New(nil)
}
