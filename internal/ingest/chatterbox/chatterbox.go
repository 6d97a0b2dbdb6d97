// Package chatterbox emits synthetic log messages at random intervals
// to exercise the full correlation pipeline without external traffic.
package chatterbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"meniscus/internal/correlation"
	"meniscus/internal/logging"
	"meniscus/internal/metrics"
	"meniscus/internal/task"
)

// Config holds generator configuration.
type Config struct {
	// TenantID and Token are the credentials stamped into every
	// generated message.
	TenantID string
	Token    string

	// MinInterval/MaxInterval bound the random delay between messages.
	// Defaults: 200ms..2s.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Programs overrides the generated program-name pool.
	Programs []string

	Runner  *task.Runner
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Generator produces fake traffic for one tenant.
//
// Logging is intentionally sparse; only lifecycle events are logged,
// nothing in the generation loop.
type Generator struct {
	tenantID    string
	token       string
	minInterval time.Duration
	maxInterval time.Duration
	programs    []string
	hosts       []string
	rng         *rand.Rand
	runner      *task.Runner
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a generator with randomly named hosts and programs.
func New(cfg Config) *Generator {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	minI := cfg.MinInterval
	if minI == 0 {
		minI = 200 * time.Millisecond
	}
	maxI := cfg.MaxInterval
	if maxI == 0 {
		maxI = 2 * time.Second
	}
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	programs := cfg.Programs
	if len(programs) == 0 {
		programs = make([]string, 4)
		for i := range programs {
			programs[i] = petname.Generate(1, "")
		}
	}
	hosts := make([]string, 6)
	for i := range hosts {
		hosts[i] = petname.Generate(2, "-")
	}

	return &Generator{
		tenantID:    cfg.TenantID,
		token:       cfg.Token,
		minInterval: minI,
		maxInterval: maxI,
		programs:    programs,
		hosts:       hosts,
		rng:         rng,
		runner:      cfg.Runner,
		logger:      logging.Default(cfg.Logger).With("component", "ingester", "type", "chatterbox"),
		metrics:     m,
	}
}

// Run emits messages until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("chatterbox starting", "tenant_id", g.tenantID)

	timer := time.NewTimer(g.randomInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("chatterbox stopping")
			return nil
		case <-timer.C:
		}

		payload, err := json.Marshal(g.generate())
		if err == nil {
			g.metrics.Ingested.WithLabelValues("chatterbox").Inc()
			g.runner.Go(ctx, correlation.TaskSyslog, payload)
		}

		timer.Reset(g.randomInterval())
	}
}

func (g *Generator) randomInterval() time.Duration {
	if g.minInterval >= g.maxInterval {
		return g.minInterval
	}
	delta := g.maxInterval - g.minInterval
	return g.minInterval + time.Duration(g.rng.Int64N(int64(delta)))
}

var severities = []string{"debug", "info", "notice", "warning", "err"}

// generate builds one syslog-shaped dict with valid credentials.
func (g *Generator) generate() map[string]any {
	host := g.hosts[g.rng.IntN(len(g.hosts))]
	program := g.programs[g.rng.IntN(len(g.programs))]
	return map[string]any{
		"PRIORITY": severities[g.rng.IntN(len(severities))],
		"VERSION":  "1",
		"ISODATE":  time.Now().UTC().Format(time.RFC3339),
		"HOST":     host,
		"PROGRAM":  program,
		"PID":      fmt.Sprint(g.rng.IntN(30000) + 100),
		"MESSAGE": fmt.Sprintf("%s %s took %dms",
			program, petname.Generate(3, " "), g.rng.IntN(500)),
		"_SDATA": map[string]any{
			"meniscus": map[string]any{
				"tenant": g.tenantID,
				"token":  g.token,
			},
		},
	}
}
