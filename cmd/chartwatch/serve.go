package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chartwatch/chartwatch/internal/orchestrator"
	"github.com/chartwatch/chartwatch/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler with the telemetry HTTP server",
		Long:  "Runs the candle-close scheduler alongside an HTTP server exposing /metrics, /health, and /status.",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address for the telemetry server (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr := cfg.Serve.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics()
	orch, cleanup, err := buildApp(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	opts, err := watchOptions(cfg)
	if err != nil {
		return err
	}
	startStreamers(ctx, cfg, orch)

	watcher := orchestrator.NewWatcher(orch)
	server := telemetry.NewServer(addr, metrics, func() map[string]any {
		return map[string]any{
			"state":      watcher.State().String(),
			"timeframes": cfg.Timeframes,
			"venues":     cfg.Venues,
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(ctx) })
	g.Go(func() error { return watcher.Run(ctx, opts) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("serve stopped")
	return nil
}
