package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"meniscus/internal/cache"
	redisstore "meniscus/internal/cache/redis"
	"meniscus/internal/config"
	"meniscus/internal/coordinator"
	"meniscus/internal/correlation"
	"meniscus/internal/ingest/chatterbox"
	"meniscus/internal/ingest/httpapi"
	ingestkafka "meniscus/internal/ingest/kafka"
	"meniscus/internal/ingest/syslogd"
	"meniscus/internal/metrics"
	"meniscus/internal/normalize"
	"meniscus/internal/sink"
	essink "meniscus/internal/sink/elasticsearch"
	"meniscus/internal/task"
)

// indexQueueKey is the durable sink queue's redis key.
const indexQueueKey = "meniscus:index_queue"

// runWorker wires the full worker personality and blocks until ctx is
// cancelled or a component fails fatally.
func runWorker(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()

	tenants := cache.NewTenantCache(redisstore.New(rdb, "tenant"), cfg.TenantTTL, logger)
	tokens := cache.NewTokenCache(redisstore.New(rdb, "token"), cfg.TokenTTL, logger)
	cfgCache := cache.NewConfigCache(redisstore.New(rdb, "config"), logger)
	cfgCache.Set(ctx, cfg.Worker())

	// The pipeline takes its identity from the cached record rather
	// than the environment. On a cache miss (the write above failed)
	// fall back to the environment directly.
	wc := cfgCache.Get(ctx)
	if wc == nil {
		logger.Warn("worker configuration not readable from cache, using environment")
		fallback := cfg.Worker()
		wc = &fallback
	}

	runner := task.NewRunner(task.Config{Logger: logger, Metrics: m})

	indexer, err := essink.NewESIndexer(cfg.ESAddresses)
	if err != nil {
		return fmt.Errorf("elasticsearch client: %w", err)
	}
	queue := essink.NewRedisQueue(rdb, indexQueueKey)
	if n, err := queue.Reclaim(ctx); err != nil {
		logger.Warn("index queue reclaim failed", "error", err)
	} else if n > 0 {
		logger.Info("reclaimed in-flight envelopes from previous run", "count", n)
	}

	router := sink.NewRouter(sink.RouterConfig{Runner: runner, Logger: logger, Metrics: m})
	if err := router.Register(essink.NewSink(essink.SinkConfig{
		Queue:             queue,
		Indexer:           indexer,
		DocumentTTLMillis: cfg.DocumentTTL.Milliseconds(),
		Logger:            logger,
	})); err != nil {
		return err
	}

	var normalizer *normalize.Normalizer
	if cfg.RulesPath != "" {
		normalizer, err = normalize.New(normalize.Config{RulesPath: cfg.RulesPath, Logger: logger})
		if err != nil {
			return fmt.Errorf("normalization rules: %w", err)
		}
	}

	pipeline := correlation.New(correlation.Config{
		Tenants:     tenants,
		Tokens:      tokens,
		Coordinator: coordinator.New(coordinator.Config{URI: wc.CoordinatorURI, Logger: logger}),
		Normalizer:  normalizer,
		Router:      router,
		Hostname:    wc.Hostname,
		Logger:      logger,
		Metrics:     m,
	})
	if err := pipeline.RegisterTasks(runner); err != nil {
		return err
	}

	flusher := essink.NewFlusher(essink.FlusherConfig{
		Queue:     queue,
		Indexer:   indexer,
		ChunkSize: cfg.FlushChunk,
		Linger:    cfg.FlushLinger,
		Logger:    logger,
		Metrics:   m,
	})

	logger.Info("worker starting", "hostname", wc.Hostname, "coordinator", wc.CoordinatorURI)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return flusher.Run(gctx) })

	receiver := httpapi.New(httpapi.Config{
		Addr:         cfg.HTTPAddr,
		Runner:       runner,
		Logger:       logger,
		Metrics:      m,
		PromRegistry: promReg,
	})
	g.Go(func() error { return receiver.Run(gctx) })

	if cfg.SyslogUDPAddr != "" || cfg.SyslogTCPAddr != "" {
		listener := syslogd.New(syslogd.Config{
			UDPAddr: cfg.SyslogUDPAddr,
			TCPAddr: cfg.SyslogTCPAddr,
			Runner:  runner,
			Logger:  logger,
			Metrics: m,
		})
		g.Go(func() error { return listener.Run(gctx) })
	}

	if len(cfg.KafkaBrokers) > 0 {
		consumer := ingestkafka.New(ingestkafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Group:   cfg.KafkaGroup,
			Runner:  runner,
			Logger:  logger,
			Metrics: m,
		})
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.ChatterboxTenant != "" && cfg.ChatterboxToken != "" {
		gen := chatterbox.New(chatterbox.Config{
			TenantID: cfg.ChatterboxTenant,
			Token:    cfg.ChatterboxToken,
			Runner:   runner,
			Logger:   logger,
			Metrics:  m,
		})
		g.Go(func() error { return gen.Run(gctx) })
	}

	if normalizer != nil {
		g.Go(func() error { return normalizer.Watch(gctx) })
	}

	err = g.Wait()
	runner.Wait()
	logger.Info("worker stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}
