package main

import (
	"context"
	"log/slog"

	"meniscus/internal/config"
	"meniscus/internal/coordinator"
	"meniscus/internal/registry"
)

// runCoordinator wires the authority personality: an in-memory tenant
// registry behind the HTTP contract workers consult on cache misses.
func runCoordinator(ctx context.Context, logger *slog.Logger, cfg config.Config, bootstrapTenant string) error {
	reg := registry.New(cfg.MinRotationInterval)

	if bootstrapTenant != "" {
		t, err := reg.CreateTenant(bootstrapTenant, bootstrapTenant)
		if err != nil {
			return err
		}
		// Quick-start convenience; rotate this token before real use.
		logger.Info("bootstrap tenant created",
			"tenant_id", t.TenantID, "token", t.Token.Valid)
	}

	srv := coordinator.NewServer(coordinator.ServerConfig{
		Addr:     cfg.AuthorityAddr,
		Registry: reg,
		Logger:   logger,
	})
	return srv.Run(ctx)
}
