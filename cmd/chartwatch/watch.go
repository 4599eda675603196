package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chartwatch/chartwatch/internal/orchestrator"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the candle-close scheduler",
		Long:  "Sleeps until each candle-close boundary, then scans every priority group and delivers results. Runs until interrupted.",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildApp(ctx, cfg, nil)
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
	if err := watcher.Run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("watcher stopped")
	return nil
}
