// Package task is the in-process task runtime for the correlation
// pipeline: a registry of named, idempotent handlers plus a runner that
// executes them with retry classification.
//
// Handlers take plain serializable arguments (a JSON payload) and return
// nothing but an error; callers never observe a result. The runner
// inspects the fault kind of a failed handler: communication faults are
// rescheduled with capped exponential backoff for as long as the context
// lives (store-and-forward: never drop a message because the coordinator
// was briefly unreachable), every other kind fails the task permanently
// and is logged with full context.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"meniscus/internal/fault"
	"meniscus/internal/logging"
	"meniscus/internal/metrics"
)

// Handler is a named, idempotent, side-effect-only task function.
type Handler func(ctx context.Context, payload []byte) error

// Config holds runner configuration.
type Config struct {
	// InitialInterval is the first retry delay. Defaults to 500ms.
	InitialInterval time.Duration
	// MaxInterval caps the backoff curve. Defaults to 1 minute. The
	// exact curve is not load-bearing; it only has to keep climbing to
	// the cap.
	MaxInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Runner executes registered handlers with retry-on-communication-fault
// semantics. Registration happens at startup, before any Run call.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	initial time.Duration
	max     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewRunner creates a runner with an empty handler registry.
func NewRunner(cfg Config) *Runner {
	initial := cfg.InitialInterval
	if initial == 0 {
		initial = 500 * time.Millisecond
	}
	max := cfg.MaxInterval
	if max == 0 {
		max = time.Minute
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Runner{
		handlers: make(map[string]Handler),
		initial:  initial,
		max:      max,
		logger:   logging.Default(cfg.Logger).With("component", "task_runner"),
		metrics:  m,
	}
}

// Register adds a named handler. Duplicate names are a programming error.
func (r *Runner) Register(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("task: handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Run executes the named handler, rescheduling on communication faults
// until it succeeds, fails terminally, or ctx is cancelled. The returned
// error is nil on success, the terminal fault otherwise.
func (r *Runner) Run(ctx context.Context, name string, payload []byte) error {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task: unknown handler %q", name)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxInterval = r.max
	bo.MaxElapsedTime = 0 // unbounded; only ctx cancellation stops retries

	attempt := 0
	op := func() error {
		attempt++
		err := h(ctx, payload)
		if err == nil {
			return nil
		}
		if fault.Retryable(err) && ctx.Err() == nil {
			r.metrics.TaskRetries.Inc()
			r.logger.Debug("task rescheduled", "task", name, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err == nil {
		return nil
	}

	var fe *fault.Error
	tenantID := ""
	if errors.As(err, &fe) {
		tenantID = fe.TenantID
	}
	kind := fault.KindOf(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Shutdown, not a verdict on the message; the un-acked source
		// delivery will come back.
		return err
	}
	r.metrics.Dropped.WithLabelValues(kind.String()).Inc()
	r.logger.Error("task failed permanently, message dropped",
		"task", name, "kind", kind.String(), "tenant_id", tenantID, "error", err)
	return err
}

// Go runs the task in the background (fire-and-forget). Failures follow
// the same classification and logging as Run.
func (r *Runner) Go(ctx context.Context, name string, payload []byte) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Run(ctx, name, payload)
	}()
}

// Wait blocks until all background tasks have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
