package elasticsearch

import (
	"context"
	"log/slog"
	"sync"

	"meniscus/internal/event"
	"meniscus/internal/fault"
	"meniscus/internal/logging"
)

// SinkName is the identifier tenants use in their producer sink lists.
const SinkName = "elasticsearch"

// SinkConfig holds enqueue-side configuration.
type SinkConfig struct {
	Queue Queue

	// Indexer used for the one-time index/mapping setup per new tenant
	// and pattern. Optional; nil skips setup (tests, or externally
	// managed indices).
	Indexer Indexer

	// DocumentTTLMillis is stamped on every envelope. 0 = no expiry.
	DocumentTTLMillis int64

	Logger *slog.Logger
}

// Sink is the indexing sink's enqueue side: it wraps events in
// envelopes and publishes them to the durable queue. Implements
// sink.Sink.
type Sink struct {
	queue   Queue
	indexer Indexer
	ttl     int64
	logger  *slog.Logger

	mu       sync.Mutex
	prepared map[string]bool // index/doctype pairs already set up
}

// NewSink creates the enqueue side of the indexing sink.
func NewSink(cfg SinkConfig) *Sink {
	return &Sink{
		queue:    cfg.Queue,
		indexer:  cfg.Indexer,
		ttl:      cfg.DocumentTTLMillis,
		logger:   logging.Default(cfg.Logger).With("component", "sink", "sink", SinkName),
		prepared: make(map[string]bool),
	}
}

// Name returns the sink identifier.
func (s *Sink) Name() string { return SinkName }

// Enqueue wraps the event in an index-request envelope and publishes it.
// A publish failure is a communication fault: the envelope was not
// durably queued, so the enqueue task is safe to retry.
func (s *Sink) Enqueue(ctx context.Context, ev *event.Event) error {
	s.prepare(ctx, ev.Meniscus.Tenant, ev.Meniscus.Correlation.Pattern)

	env := NewEnvelope(ev, s.ttl)
	payload, err := env.Marshal()
	if err != nil {
		return fault.Wrap(fault.Validation, ev.Meniscus.Tenant, err, "envelope not serializable")
	}
	if err := s.queue.Publish(ctx, payload); err != nil {
		return fault.Wrap(fault.Communication, ev.Meniscus.Tenant, err, "publishing index envelope")
	}
	return nil
}

// prepare runs the idempotent index/mapping setup once per new
// tenant/pattern pair. Setup failures are logged and retried on the
// next event for the pair; they never block enqueueing, since the
// backend applies dynamic mappings regardless.
func (s *Sink) prepare(ctx context.Context, index, docType string) {
	if s.indexer == nil {
		return
	}
	key := index + "/" + docType
	s.mu.Lock()
	done := s.prepared[key]
	s.mu.Unlock()
	if done {
		return
	}

	if err := s.indexer.EnsureIndex(ctx, index); err != nil {
		s.logger.Warn("index setup failed", "index", index, "error", err)
		return
	}
	if err := s.indexer.PutTTLMapping(ctx, index, docType); err != nil {
		s.logger.Warn("mapping setup failed", "index", index, "doc_type", docType, "error", err)
		return
	}
	s.mu.Lock()
	s.prepared[key] = true
	s.mu.Unlock()
}
