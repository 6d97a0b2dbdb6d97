// Command meniscus runs the log correlation service in one of two
// personalities: worker (ingest, correlate, flush) or coordinator
// (tenant/token authority).
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"meniscus/internal/config"
	"meniscus/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, parseLevel(cfg.LogLevel), cfg.LogJSON)

	rootCmd := &cobra.Command{
		Use:   "meniscus",
		Short: "Log correlation service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060); bind to loopback only")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Start a correlation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return runWorker(ctx, logger, cfg)
		},
	}

	coordinatorCmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Start the tenant/token authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapTenant, _ := cmd.Flags().GetString("bootstrap-tenant")
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return runCoordinator(ctx, logger, cfg, bootstrapTenant)
		},
	}
	coordinatorCmd.Flags().String("bootstrap-tenant", "", "create a tenant at startup and log its credentials")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(workerCmd, coordinatorCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
