package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"meniscus/internal/event"
	"meniscus/internal/fault"
	"meniscus/internal/logging"
	"meniscus/internal/metrics"
	"meniscus/internal/task"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Runner  *task.Runner
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Router dispatches correlated events to registered sinks. Register is
// startup-only; Route is called concurrently by pipeline workers.
type Router struct {
	sinks   map[string]Sink
	runner  *task.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a router with no sinks registered.
func NewRouter(cfg RouterConfig) *Router {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Router{
		sinks:   make(map[string]Sink),
		runner:  cfg.Runner,
		logger:  logging.Default(cfg.Logger).With("component", "sink_router"),
		metrics: m,
	}
}

// Register adds a sink and registers its enqueue task handler.
func (r *Router) Register(s Sink) error {
	name := s.Name()
	if _, ok := r.sinks[name]; ok {
		return fmt.Errorf("sink %q already registered", name)
	}
	handler := func(ctx context.Context, payload []byte) error {
		var ev event.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fault.Wrap(fault.Validation, "", err, "malformed enqueue payload for sink %s", name)
		}
		return s.Enqueue(ctx, &ev)
	}
	if err := r.runner.Register(taskName(name), handler); err != nil {
		return err
	}
	r.sinks[name] = s
	return nil
}

// Route fans the event out: one fire-and-forget enqueue task per
// recognized sink on the event's correlation record. Returns the number
// of tasks scheduled.
func (r *Router) Route(ctx context.Context, ev *event.Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		// An event we built ourselves always marshals; treat anything
		// else as a permanently failed message.
		r.logger.Error("event not serializable, dropped",
			"tenant_id", ev.Meniscus.Tenant, "error", err)
		return 0
	}

	scheduled := 0
	for _, name := range ev.Meniscus.Correlation.Sinks {
		if _, ok := r.sinks[name]; !ok {
			r.logger.Debug("unrecognized sink skipped",
				"sink", name, "tenant_id", ev.Meniscus.Tenant)
			continue
		}
		r.metrics.Enqueued.WithLabelValues(name).Inc()
		r.runner.Go(ctx, taskName(name), payload)
		scheduled++
	}
	return scheduled
}

func taskName(sink string) string {
	return "sink." + sink + ".enqueue"
}
