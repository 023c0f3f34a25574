package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/sessions"
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the headless agent
// service: scheduler, session expiry, metrics and config hot reload.
func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent service",
		Long: `Serve runs sidekick headless: the scheduler fires tasks into the agent
loop, sessions expire on schedule and Prometheus metrics are exposed when
configured. Endpoint pools reload when the config file changes.

Shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Observability.LogLevel = "debug"
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()

	rt.scheduler.Start(ctx)

	maxIdle := time.Duration(cfg.Sessions.ExpireDays) * 24 * time.Hour
	go sessions.RunExpiry(ctx, rt.store, maxIdle, sessions.DefaultExpiryCheckInterval)

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			slog.Info("metrics listening", "addr", addr)
			if err := observability.ServeMetrics(addr); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := config.Watch(ctx, configPath, rt.reload); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	}

	slog.Info("sidekick serving", "config", configPath, "version", version)
	<-ctx.Done()
	slog.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.scheduler.Stop(stopCtx); err != nil {
		slog.Warn("scheduler stop", "error", err)
	}
	return nil
}
