// Package correlation implements the message correlation pipeline: the
// chain of steps that takes a raw log event from either origin through
// token validation, tenant lookup, enrichment, and dispatch.
//
// The chain is expressed as plain methods invoked by named task handlers;
// every step either proceeds or raises a classified fault. The task
// runner reschedules communication faults indefinitely and permanently
// fails everything else, so this package never has to decide retry
// policy, only classification.
//
// Lookup order per message: token cache, then remote validate on miss;
// tenant cache, then remote fetch on miss. The remote-validate path does
// not populate the token cache; both caches are populated together only
// when the full tenant is fetched, keeping tenant+token writes atomic
// from the pipeline's point of view.
package correlation

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"meniscus/internal/cache"
	"meniscus/internal/coordinator"
	"meniscus/internal/event"
	"meniscus/internal/fault"
	"meniscus/internal/logging"
	"meniscus/internal/metrics"
	"meniscus/internal/normalize"
	"meniscus/internal/sink"
	"meniscus/internal/tenant"
)

// Config holds pipeline dependencies. Everything is injected; the
// pipeline owns no process-wide state.
type Config struct {
	Tenants     *cache.TenantCache
	Tokens      *cache.TokenCache
	Coordinator *coordinator.Client
	Normalizer  *normalize.Normalizer
	Router      *sink.Router

	// Hostname identifies this worker to the remote authority.
	Hostname string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Pipeline correlates log events. Safe for concurrent use.
type Pipeline struct {
	tenants    *cache.TenantCache
	tokens     *cache.TokenCache
	coord      *coordinator.Client
	normalizer *normalize.Normalizer
	router     *sink.Router
	hostname   string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Pipeline{
		tenants:    cfg.Tenants,
		tokens:     cfg.Tokens,
		coord:      cfg.Coordinator,
		normalizer: cfg.Normalizer,
		router:     cfg.Router,
		hostname:   cfg.Hostname,
		logger:     logging.Default(cfg.Logger).With("component", "correlation"),
		metrics:    m,
		now:        time.Now,
	}
}

// CorrelateSyslog is the syslog-origin entry point: a structured
// RFC5424-derived dict whose _SDATA.meniscus section carries the
// credentials. A message without credentials is a validation fault:
// malformed messages never become well-formed by retrying.
func (p *Pipeline) CorrelateSyslog(ctx context.Context, raw map[string]any) error {
	tenantID, token, err := credentialsFromSyslog(raw)
	if err != nil {
		return err
	}
	ev := formatSyslog(raw)
	return p.correlate(ctx, tenantID, token, ev)
}

// CorrelateHTTP is the HTTP-origin entry point: credentials plus an
// event already in canonical shape.
func (p *Pipeline) CorrelateHTTP(ctx context.Context, tenantID, token string, ev *event.Event) error {
	return p.correlate(ctx, tenantID, token, ev)
}

func (p *Pipeline) correlate(ctx context.Context, tenantID, token string, ev *event.Event) error {
	tn, err := p.validateAndLoad(ctx, tenantID, token)
	if err != nil {
		return err
	}
	p.enrich(ev, tn)
	p.dispatch(ctx, ev)
	p.metrics.Correlated.Inc()
	return nil
}

// validateAndLoad runs the cache-then-remote validation chain and
// returns the tenant the message belongs to.
func (p *Pipeline) validateAndLoad(ctx context.Context, tenantID, token string) (*tenant.Tenant, error) {
	if tk := p.tokens.Get(ctx, tenantID); tk != nil {
		// Cache hit: the cached token is authoritative enough to
		// reject a bad credential without a remote round trip.
		if !tk.Validate(token) {
			return nil, fault.New(fault.Authentication, tenantID, "message token rejected")
		}
		if tn := p.tenants.Get(ctx, tenantID); tn != nil {
			return tn, nil
		}
		return p.loadTenantFromRemote(ctx, tenantID, token)
	}

	valid, err := p.coord.ValidateToken(ctx, tenantID, token, p.hostname)
	if err != nil {
		return nil, err // communication fault, retryable
	}
	if !valid {
		return nil, fault.New(fault.Authentication, tenantID, "message token rejected by authority")
	}
	// Deliberately no token-cache write here: the cache is populated
	// only together with the tenant, below.
	return p.loadTenantFromRemote(ctx, tenantID, token)
}

// loadTenantFromRemote fetches the authoritative tenant and
// writes through both cache regions so subsequent messages for the
// tenant stay off the coordinator.
func (p *Pipeline) loadTenantFromRemote(ctx context.Context, tenantID, token string) (*tenant.Tenant, error) {
	tn, err := p.coord.GetTenant(ctx, tenantID, token, p.hostname)
	if err != nil {
		return nil, err // NotFound (terminal) or Communication (retryable)
	}
	p.tokens.Set(ctx, tenantID, tn.Token)
	p.tenants.Set(ctx, tn)
	return tn, nil
}

// enrich attaches the correlation record and scrubs credentials.
// An unrecognized program name synthesizes a default producer rather
// than failing: unknown programs must never block ingestion.
func (p *Pipeline) enrich(ev *event.Event, tn *tenant.Tenant) {
	corr := event.Correlation{
		TenantName: tn.TenantName,
		Pattern:    tenant.DefaultPattern,
		Sinks:      []string{tenant.DefaultSink},
		Timestamp:  p.now().UTC().Format(time.RFC3339Nano),
	}
	if ep := tn.FindEventProducer(ev.Pname); ep != nil {
		id := ep.ID
		corr.EpID = &id
		corr.Pattern = ep.Pattern
		corr.Durable = ep.Durable
		corr.Encrypted = ep.Encrypted
		corr.Sinks = slices.Clone(ep.Sinks)
	}
	corr.Destinations = make(map[string]event.Destination, len(corr.Sinks))
	for _, s := range corr.Sinks {
		corr.Destinations[s] = event.Destination{}
	}
	ev.Meniscus = event.Meniscus{Tenant: tn.TenantID, Correlation: corr}

	// The token must never reach a stored document. Events without
	// native fields still serialize with an empty object rather than
	// null so downstream consumers see a stable shape.
	if ev.Native == nil {
		ev.Native = map[string]any{}
	} else {
		delete(ev.Native, "meniscus")
	}
}

// dispatch hands the event to normalization when the producer pattern
// has a loaded rule set and there is a message body to parse; otherwise
// straight to the sink router.
func (p *Pipeline) dispatch(ctx context.Context, ev *event.Event) {
	pattern := ev.Meniscus.Correlation.Pattern
	if p.normalizer != nil && ev.Msg != "" && p.normalizer.HasRules(pattern) {
		p.normalizer.Normalize(ev, pattern)
	}
	p.router.Route(ctx, ev)
}
