package main

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chartwatch/chartwatch/internal/config"
	"github.com/chartwatch/chartwatch/internal/orchestrator"
	"github.com/chartwatch/chartwatch/internal/scanner"
	"github.com/chartwatch/chartwatch/internal/sink"
	"github.com/chartwatch/chartwatch/internal/stream"
	"github.com/chartwatch/chartwatch/internal/telemetry"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.InheritedFlags().GetString("config")
	}
	return config.Load(path)
}

// buildApp wires the orchestrator with its sinks from the config. The
// returned cleanup closes sink connections.
func buildApp(ctx context.Context, cfg config.Config, metrics *telemetry.Metrics) (*orchestrator.Orchestrator, func(), error) {
	orch := orchestrator.New()
	orch.Metrics = metrics

	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Postgres.DSN != "" {
		store, err := sink.OpenEventStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if metrics != nil {
			store.OnStored = func(n int) { metrics.EventsStored.Add(float64(n)) }
		}
		closers = append(closers, func() { store.Close() })
		orch.Sinks = append(orch.Sinks, store)
	}

	if cfg.SendNotifications {
		notifier := sink.NewNotifier(cfg.Telegram.BotToken, cfg.Recipients)
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
			notifier.Dedup = sink.NewAlertCache(rdb)
			closers = append(closers, func() { rdb.Close() })
		}
		orch.Sinks = append(orch.Sinks, notifier)
	}

	if len(orch.Sinks) == 0 {
		log.Info().Msg("no sinks configured, results go to the log only")
	}
	return orch, cleanup, nil
}

func sessionOptions(cfg config.Config) (orchestrator.Options, error) {
	tfs, err := cfg.ParsedTimeframes()
	if err != nil {
		return orchestrator.Options{}, err
	}
	return orchestrator.Options{
		Timeframes: tfs,
		Venues:     cfg.Venues,
		Scan: scanner.Config{
			Strategies:   cfg.Strategies,
			BarPolicy:    scanner.BarPolicy(cfg.CheckBar),
			MinVolumeUSD: cfg.MinVolumeUSD,
		},
		FastMaxExchanges: cfg.FastMaxExchanges,
		SlowMaxExchanges: cfg.SlowMaxExchanges,
		StaggerMS:        cfg.ExchangeStaggerMS,
	}, nil
}

func watchOptions(cfg config.Config) (orchestrator.WatchOptions, error) {
	opts, err := sessionOptions(cfg)
	if err != nil {
		return orchestrator.WatchOptions{}, err
	}
	return orchestrator.WatchOptions{
		Options:           opts,
		FuturesStrategies: cfg.FuturesStrategies,
	}, nil
}

// startStreamers launches forming-bar websocket followers for the configured
// symbols on every native timeframe. Derived timeframes are rebuilt from
// daily data on fetch, so they get no streamer.
func startStreamers(ctx context.Context, cfg config.Config, orch *orchestrator.Orchestrator) {
	if !cfg.Stream.Enabled {
		return
	}
	for _, name := range cfg.Timeframes {
		tf, err := timeframe.Parse(name)
		if err != nil || tf.Derived() {
			continue
		}
		for _, symbol := range cfg.Stream.Symbols {
			s := stream.NewStreamer("binance", symbol, tf, orch.Cache)
			go func() {
				if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("kline stream stopped")
				}
			}()
		}
	}
}

func logResultSummary(results map[string][]scanner.Result, took time.Duration) {
	total := 0
	for _, rs := range results {
		total += len(rs)
	}
	log.Info().
		Int("strategies", len(results)).
		Int("hits", total).
		Dur("took", took).
		Msg("scan finished")
}
