package elasticsearch

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"meniscus/internal/logging"
	"meniscus/internal/metrics"
)

// FlusherConfig holds bulk flush engine configuration.
type FlusherConfig struct {
	Queue   Queue
	Indexer Indexer

	// ChunkSize is the flush batch size. Defaults to 100.
	ChunkSize int

	// Linger bounds how long a worker waits to fill a chunk before
	// flushing what it has. Defaults to 1s.
	Linger time.Duration

	// Workers is the pool size. Defaults to one per CPU core.
	Workers int

	// PullTimeout is the blocking-pull window. Defaults to 1s; a pull
	// timeout is not an error, the worker just pulls again.
	PullTimeout time.Duration

	// FailurePause is the breather after a total backend failure before
	// the worker loop restarts. Defaults to 1s.
	FailurePause time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Flusher is the long-running bulk flush engine: a pool of workers, each
// pulling a continuous stream of envelopes off the durable queue and
// flushing them to the backend in chunks.
//
// The correctness property: an envelope is acked only after the backend
// confirmed that specific document. Failed items within a batch are
// nacked back to the ready queue for a later flush; successful siblings
// are acked regardless. Total backend unavailability never crashes the
// process; the worker requeues the batch, logs, pauses, and restarts
// its loop.
type Flusher struct {
	queue        Queue
	indexer      Indexer
	chunk        int
	linger       time.Duration
	workers      int
	pullTimeout  time.Duration
	failurePause time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewFlusher creates the flush engine.
func NewFlusher(cfg FlusherConfig) *Flusher {
	f := &Flusher{
		queue:        cfg.Queue,
		indexer:      cfg.Indexer,
		chunk:        cfg.ChunkSize,
		linger:       cfg.Linger,
		workers:      cfg.Workers,
		pullTimeout:  cfg.PullTimeout,
		failurePause: cfg.FailurePause,
		logger:       logging.Default(cfg.Logger).With("component", "bulk_flusher"),
		metrics:      cfg.Metrics,
	}
	if f.chunk <= 0 {
		f.chunk = 100
	}
	if f.linger <= 0 {
		f.linger = time.Second
	}
	if f.workers <= 0 {
		f.workers = runtime.NumCPU()
	}
	if f.pullTimeout <= 0 {
		f.pullTimeout = time.Second
	}
	if f.failurePause <= 0 {
		f.failurePause = time.Second
	}
	if f.metrics == nil {
		f.metrics = metrics.Nop()
	}
	return f
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) error {
	f.logger.Info("bulk flush engine starting", "workers", f.workers, "chunk", f.chunk)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < f.workers; i++ {
		worker := i
		g.Go(func() error {
			f.workerLoop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (f *Flusher) workerLoop(ctx context.Context, worker int) {
	logger := f.logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := f.collect(ctx)
		if err != nil {
			// Broker trouble: nothing was pulled or what was pulled
			// stays unacked. Pause and restart the loop.
			logger.Warn("queue pull failed, restarting loop", "error", err)
			f.pause(ctx)
			continue
		}
		if len(batch) == 0 {
			continue
		}
		f.flush(ctx, logger, batch)
	}
}

type pulled struct {
	env      Envelope
	delivery *Delivery
}

// collect pulls one blocking delivery, then drains without blocking up
// to the chunk size or the linger deadline. Undecodable envelopes are
// acked away immediately: they can never flush and would otherwise
// redeliver forever.
func (f *Flusher) collect(ctx context.Context) ([]pulled, error) {
	batch := make([]pulled, 0, f.chunk)
	deadline := time.Now().Add(f.linger)

	d, err := f.queue.Pull(ctx, f.pullTimeout)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil // pull timeout, loop
	}

	for {
		if env, err := UnmarshalEnvelope(d.Payload); err != nil {
			f.logger.Error("undecodable envelope discarded", "error", err)
			_ = d.Ack(ctx)
		} else {
			batch = append(batch, pulled{env: env, delivery: d})
		}

		if len(batch) >= f.chunk {
			return batch, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return batch, nil
		}

		d, err = f.queue.Pull(ctx, remaining)
		if err != nil {
			// Keep what we have; the flush still runs, the error
			// surfaces on the next loop iteration if it persists.
			return batch, nil
		}
		if d == nil {
			return batch, nil
		}
	}
}

// flush submits the batch and acks exactly the confirmed items.
func (f *Flusher) flush(ctx context.Context, logger *slog.Logger, batch []pulled) {
	envelopes := make([]Envelope, len(batch))
	for i, p := range batch {
		envelopes[i] = p.env
	}

	results, err := f.indexer.Bulk(ctx, envelopes)
	if err != nil {
		// Total backend failure: requeue everything, then pause and
		// carry on. Nothing was acked.
		logger.Warn("bulk flush failed, envelopes requeued",
			"count", len(batch), "error", err)
		for _, p := range batch {
			f.nack(ctx, logger, p)
		}
		f.pause(ctx)
		return
	}

	for i, res := range results {
		if !res.OK {
			f.metrics.FlushFailed.Inc()
			logger.Warn("envelope rejected by backend, requeued",
				"id", batch[i].env.ID, "index", batch[i].env.Index,
				"status", res.Status, "reason", res.Reason)
			f.nack(ctx, logger, batch[i])
			continue
		}
		if err := batch[i].delivery.Ack(ctx); err != nil {
			// The document is indexed but the ack failed; redelivery
			// will index it again under the same id, which is
			// idempotent.
			logger.Warn("ack failed", "id", batch[i].env.ID, "error", err)
			continue
		}
		f.metrics.Flushed.Inc()
	}
}

// nack returns the envelope to the ready queue. A failed nack leaves it
// in the processing list, where the startup reclaim recovers it.
func (f *Flusher) nack(ctx context.Context, logger *slog.Logger, p pulled) {
	if err := p.delivery.Nack(ctx); err != nil {
		logger.Warn("requeue failed, envelope held until reclaim",
			"id", p.env.ID, "error", err)
	}
}

func (f *Flusher) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(f.failurePause):
	}
}
