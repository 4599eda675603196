package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chartwatch/chartwatch/internal/config"
	"github.com/chartwatch/chartwatch/internal/export"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan session and exit",
		Long:  "Scans the configured venues once across the configured timeframes, delivers results to the configured sinks, and exits.",
		RunE:  runScan,
	}
	cmd.Flags().String("timeframe", "", "scan a single timeframe instead of the configured set")
	cmd.Flags().StringSlice("strategies", nil, "override the configured strategy list")
	cmd.Flags().StringSlice("venues", nil, "override the configured venue list")
	cmd.Flags().StringSlice("recipients", nil, "override the configured Telegram recipients")
	cmd.Flags().Bool("send", false, "send Telegram notifications")
	cmd.Flags().Bool("save-csv", false, "export results to a CSV file")
	cmd.Flags().Float64("min-volume-usd", 0, "override the per-timeframe USD volume floor")
	cmd.Flags().String("check-bar", "", "bar to check: current, last_closed, or both")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyScanFlags(cmd, &cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	opts, err := sessionOptions(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := orch.RunSession(ctx, opts, time.Now().UTC())
	if err != nil {
		return err
	}
	logResultSummary(results, time.Since(start))

	if len(results) > 0 {
		orch.Deliver(ctx, results)
	}

	if save, _ := cmd.Flags().GetBool("save-csv"); save {
		if _, err := export.WriteResults(cfg.Export.Dir, results, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// applyScanFlags folds the one-shot flag overrides into the config and
// re-validates, so a bad flag value is still a configuration error.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) error {
	if tf, _ := cmd.Flags().GetString("timeframe"); tf != "" {
		cfg.Timeframes = []string{tf}
	}
	if ss, _ := cmd.Flags().GetStringSlice("strategies"); len(ss) > 0 {
		cfg.Strategies = ss
	}
	if vs, _ := cmd.Flags().GetStringSlice("venues"); len(vs) > 0 {
		cfg.Venues = vs
	}
	if rs, _ := cmd.Flags().GetStringSlice("recipients"); len(rs) > 0 {
		cfg.Recipients = rs
	}
	if send, _ := cmd.Flags().GetBool("send"); send {
		cfg.SendNotifications = true
	}
	if mv, _ := cmd.Flags().GetFloat64("min-volume-usd"); mv > 0 {
		cfg.MinVolumeUSD = &mv
	}
	if cb, _ := cmd.Flags().GetString("check-bar"); cb != "" {
		cfg.CheckBar = cb
	}
	return cfg.Validate()
}
