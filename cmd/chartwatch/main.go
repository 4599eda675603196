package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/chartwatch/chartwatch/internal/config"
)

const (
	appName = "chartwatch"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Multi-exchange chart pattern scanner",
		Long:          "chartwatch pulls OHLCV candles from the configured exchanges, runs the pattern detector battery over every symbol, and delivers hits to Telegram, Postgres, and CSV.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to YAML config file")
	// accept save_csv as well as save-csv, matching the config file keys
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	root.AddCommand(newScanCmd(), newWatchCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			log.Error().Err(err).Msg("configuration error")
			os.Exit(1)
		}
		log.Error().Err(err).Msg("fatal error")
		os.Exit(2)
	}
}
