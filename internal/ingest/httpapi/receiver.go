// Package httpapi is the HTTP ingestion surface: authenticated event
// submission plus the worker's Prometheus endpoint.
//
// Submission is accept-first: a well-formed request is answered 202 as
// soon as its correlation task is scheduled. Authentication failures
// surface asynchronously in logs and metrics, never in the HTTP
// response, so the transport stays fast and leaks nothing about
// credentials beyond well-formedness.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"meniscus/internal/coordinator"
	"meniscus/internal/correlation"
	"meniscus/internal/event"
	"meniscus/internal/logging"
	"meniscus/internal/metrics"
	"meniscus/internal/task"
)

// DefaultRateLimit is the sustained accepted-requests-per-second budget.
const DefaultRateLimit = 1000

// DefaultBurst is the rate limiter burst size.
const DefaultBurst = 200

// MaxBodyBytes bounds a single event submission.
const MaxBodyBytes = 1 << 20

// Config holds receiver configuration.
type Config struct {
	// Addr is the address to listen on (e.g. ":8088").
	Addr string

	// RateLimit/Burst tune the global limiter. Zero values take the
	// defaults; a negative RateLimit disables limiting.
	RateLimit float64
	Burst     int

	Runner  *task.Runner
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// PromRegistry, when set, is served on /metrics.
	PromRegistry *prometheus.Registry
}

// Receiver is the HTTP ingestion server.
type Receiver struct {
	addr     string
	runner   *task.Runner
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	listener net.Listener
	server   *http.Server
}

// New creates a receiver.
func New(cfg Config) *Receiver {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit >= 0 {
		limit := cfg.RateLimit
		if limit == 0 {
			limit = DefaultRateLimit
		}
		burst := cfg.Burst
		if burst == 0 {
			burst = DefaultBurst
		}
		limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return &Receiver{
		addr:    cfg.Addr,
		runner:  cfg.Runner,
		limiter: limiter,
		logger:  logging.Default(cfg.Logger).With("component", "ingester", "type", "http"),
		metrics: m,
		promReg: cfg.PromRegistry,
	}
}

// Handler returns the receiver's HTTP handler.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tenant/{tenant_id}", r.handleSubmit)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if r.promReg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(r.promReg, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run starts the server and blocks until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	r.server = &http.Server{Handler: r.Handler()}

	var err error
	r.listener, err = net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	r.logger.Info("http receiver starting", "addr", r.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.Serve(r.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("http receiver stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (r *Receiver) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *Receiver) handleSubmit(w http.ResponseWriter, req *http.Request) {
	if r.limiter != nil && !r.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	tenantID := req.PathValue("tenant_id")
	token := req.Header.Get(coordinator.TokenHeader)
	if token == "" {
		http.Error(w, "missing message token", http.StatusUnauthorized)
		return
	}

	var ev event.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, MaxBodyBytes))
	if err := dec.Decode(&ev); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	payload, err := correlation.HTTPPayload(tenantID, token, &ev)
	if err != nil {
		http.Error(w, "unserializable event", http.StatusBadRequest)
		return
	}

	r.metrics.Ingested.WithLabelValues("http").Inc()
	// Detach from the request context: the task outlives the response.
	r.runner.Go(context.WithoutCancel(req.Context()), correlation.TaskHTTP, payload)
	w.WriteHeader(http.StatusAccepted)
}
