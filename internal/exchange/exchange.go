// Package exchange contains the per-venue market data clients. Every venue
// implements the same Client interface: symbol discovery with leveraged-token
// exclusion, and kline fetching that paginates the venue's native cursor,
// normalizes rows into a canonical frame, and aggregates daily bars when a
// derived timeframe is requested.
package exchange

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

var (
	// ErrRateLimited marks a venue rate-limit response; the shared client
	// retries with backoff before surfacing it.
	ErrRateLimited = errors.New("exchange: rate limited")
	// ErrSymbolNotFound marks a venue-side unknown-symbol error code.
	ErrSymbolNotFound = errors.New("exchange: symbol not found")
	// ErrUnsupportedTimeframe is returned when a venue cannot serve the
	// source interval for the requested timeframe.
	ErrUnsupportedTimeframe = errors.New("exchange: unsupported timeframe")
)

// Client is one venue's market data surface.
type Client interface {
	// Name returns the venue identifier used in results and event records.
	Name() string
	// ListSymbols returns active quote-currency pairs in venue-native
	// format, with leveraged tokens excluded.
	ListSymbols(ctx context.Context) ([]string, error)
	// FetchKlines returns a canonical frame for the symbol at the requested
	// timeframe, paging backward until target source bars are collected or
	// the venue runs out of history. Derived timeframes are aggregated from
	// daily bars. Transient failures yield an empty frame, not an error.
	FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error)
}

// leveragedSuffixes are base-asset endings identifying leveraged tokens.
// Exclusion happens at listing time so fetch paths stay suffix-agnostic.
var leveragedSuffixes = []string{
	"2L", "2S", "3L", "3S", "4L", "4S", "5L", "5S",
	"UP", "DOWN", "BULL", "BEAR",
}

// IsLeveragedToken reports whether a base asset looks like a leveraged token.
func IsLeveragedToken(base string) bool {
	base = strings.ToUpper(base)
	for _, suf := range leveragedSuffixes {
		if strings.HasSuffix(base, suf) && len(base) > len(suf) {
			return true
		}
	}
	return false
}

// sourceTarget widens the caller's bar target so aggregated frames keep
// enough source history for SMA-50 warmup.
func sourceTarget(tf timeframe.Timeframe, target int) int {
	min := tf.MinSourceBars()
	want := target * tf.Multiplier()
	if want < min {
		return min
	}
	return want
}

// finishFrame normalizes raw bars and aggregates when tf is derived. On an
// aggregation failure (too little history) it logs and returns an empty
// frame, keeping single-symbol problems out of the venue loop.
func finishFrame(venue, symbol string, tf timeframe.Timeframe, bars []ohlcv.Bar) *ohlcv.Frame {
	frame := ohlcv.Normalize(symbol, venue, tf.Source(), bars)
	if !tf.Derived() {
		frame.TF = tf
		return frame
	}
	agg, err := ohlcv.Aggregate(frame, tf)
	if err != nil {
		log.Debug().Str("venue", venue).Str("symbol", symbol).Str("tf", string(tf)).
			Err(err).Msg("aggregation skipped")
		return &ohlcv.Frame{Symbol: symbol, Venue: venue, TF: tf}
	}
	return agg
}
