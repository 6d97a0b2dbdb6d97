// Package kafka consumes raw structured log messages from a Kafka topic
// and hands them to the correlation task runner, using franz-go.
//
// Offsets are committed late: a record's offset is committed only after
// its correlation task has reached a terminal outcome (delivered to
// sinks or permanently failed). A worker crash between poll and commit
// redelivers the record, so the pipeline may see a message twice but
// never loses one.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"meniscus/internal/correlation"
	"meniscus/internal/logging"
	"meniscus/internal/metrics"
	"meniscus/internal/task"
)

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string
}

// Config holds ingester configuration.
type Config struct {
	Brokers []string
	Topic   string
	Group   string
	TLS     bool
	SASL    *SASLConfig

	Runner  *task.Runner
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Ingester consumes a topic of syslog-shaped JSON dicts.
type Ingester struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Kafka ingester.
func New(cfg Config) *Ingester {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Ingester{
		cfg:     cfg,
		logger:  logging.Default(cfg.Logger).With("component", "ingester", "type", "kafka"),
		metrics: m,
	}
}

// Run connects to Kafka and polls until ctx is cancelled. Each record is
// correlated synchronously; communication faults keep the record
// uncommitted inside the retrying task, so slow coordinators translate
// into consumer lag rather than message loss.
func (ing *Ingester) Run(ctx context.Context) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(ing.cfg.Brokers...),
		kgo.ConsumeTopics(ing.cfg.Topic),
		kgo.ConsumerGroup(ing.cfg.Group),
		kgo.DisableAutoCommit(),
	}

	if ing.cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}

	if ing.cfg.SASL != nil {
		mech, err := buildSASLMechanism(ing.cfg.SASL)
		if err != nil {
			return err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	defer client.Close()

	ing.logger.Info("kafka consumer started",
		"brokers", ing.cfg.Brokers,
		"topic", ing.cfg.Topic,
		"group", ing.cfg.Group,
	)

	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			ing.logger.Info("kafka consumer stopping")
			return nil
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				ing.logger.Warn("kafka fetch error",
					"topic", e.Topic,
					"partition", e.Partition,
					"error", e.Err,
				)
			}
		}

		var done []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			ing.metrics.Ingested.WithLabelValues("kafka").Inc()
			// Success and permanent failure both commit: a message the
			// runner has dropped as terminal must not be redelivered.
			_ = ing.cfg.Runner.Run(ctx, correlation.TaskSyslog, rec.Value)
			if ctx.Err() != nil {
				// Shutdown mid-record: leave it uncommitted for the
				// next consumer in the group.
				return
			}
			done = append(done, rec)
		})

		if len(done) > 0 {
			if err := client.CommitRecords(context.Background(), done...); err != nil {
				ing.logger.Warn("offset commit failed", "error", err)
			}
		}
	}
}

func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
}
