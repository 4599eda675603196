// Package scanner runs the detector battery over symbols. The symbol scanner
// handles one (venue, timeframe, symbol) tuple; the exchange scanner walks a
// venue's whole symbol list in rate-friendly batches.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/detect"
	"github.com/chartwatch/chartwatch/internal/exchange"
	"github.com/chartwatch/chartwatch/internal/framecache"
	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/telemetry"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// BarPolicy selects which bar detectors are checked against.
type BarPolicy string

const (
	BarCurrent    BarPolicy = "current"     // the forming bar
	BarLastClosed BarPolicy = "last_closed" // the last closed bar
	BarBoth       BarPolicy = "both"        // both, most recent detection wins
)

const (
	minFrameBars  = 10
	defaultTarget = 300
)

// Config carries the per-scan options shared by every symbol.
type Config struct {
	Strategies   []string
	BarPolicy    BarPolicy
	MinVolumeUSD *float64 // overrides the per-timeframe default when set
	TargetBars   int
}

func (c Config) targetBars() int {
	if c.TargetBars > 0 {
		return c.TargetBars
	}
	return defaultTarget
}

func (c Config) policy() BarPolicy {
	if c.BarPolicy == "" {
		return BarLastClosed
	}
	return c.BarPolicy
}

// Result is one detector hit, tagged with everything the sinks need.
type Result struct {
	Strategy      string
	Symbol        string
	Venue         string
	TF            timeframe.Timeframe
	BarTs         time.Time
	CheckBar      int
	Close         float64
	VolumeUSD     float64
	CloseOffLow   float64
	ClosePosition string
	Payload       detect.Payload
}

// SymbolScanner evaluates the configured strategies for single symbols,
// fetching frames through the shared cache.
type SymbolScanner struct {
	Client  exchange.Client
	Cache   *framecache.Cache
	Metrics *telemetry.Metrics // optional
}

// Scan runs every configured strategy against the symbol's frame. A frame
// that is missing, too short, or below the volume gate produces no results
// and no error.
func (s *SymbolScanner) Scan(ctx context.Context, tf timeframe.Timeframe, symbol string, cfg Config) ([]Result, error) {
	frame, err := s.Cache.GetOrFetch(ctx, s.Client.Name(), tf, symbol, func(ctx context.Context) (*ohlcv.Frame, error) {
		return s.Client.FetchKlines(ctx, symbol, tf, cfg.targetBars())
	})
	if err != nil {
		return nil, err
	}
	if frame == nil || frame.Len() < minFrameBars {
		if s.Metrics != nil && (frame == nil || frame.Len() == 0) {
			s.Metrics.FetchFailures.WithLabelValues(s.Client.Name()).Inc()
		}
		return nil, nil
	}
	if !passesVolumeGate(frame, cfg) {
		if s.Metrics != nil {
			s.Metrics.SymbolsGated.WithLabelValues(s.Client.Name(), tf.String()).Inc()
		}
		return nil, nil
	}

	checks := checkBarsFor(cfg.policy())

	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)
	for _, name := range cfg.Strategies {
		detector, ok := detect.Lookup(name)
		if !ok {
			log.Warn().Str("strategy", name).Msg("unknown strategy, skipping")
			continue
		}
		wg.Add(1)
		go func(name string, detector detect.Detector) {
			defer wg.Done()
			if res, ok := runDetector(frame, name, detector, checks); ok {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}(name, detector)
	}
	wg.Wait()
	return results, nil
}

// checkBarsFor orders the bars to try, most recent first so the "both"
// policy keeps the newest detection.
func checkBarsFor(p BarPolicy) []int {
	switch p {
	case BarCurrent:
		return []int{-1}
	case BarBoth:
		return []int{-1, -2}
	}
	return []int{-2}
}

func runDetector(frame *ohlcv.Frame, name string, detector detect.Detector, checks []int) (Result, bool) {
	for _, check := range checks {
		detected, payload := detector(frame, check)
		if !detected {
			continue
		}
		i, ok := frame.Abs(check)
		if !ok {
			continue
		}
		b := frame.Bars[i]
		return Result{
			Strategy:      name,
			Symbol:        frame.Symbol,
			Venue:         frame.Venue,
			TF:            frame.TF,
			BarTs:         b.Ts,
			CheckBar:      check,
			Close:         b.Close,
			VolumeUSD:     frame.QuoteVolumeUSD(i),
			CloseOffLow:   b.CloseLocation(),
			ClosePosition: closePosition(b),
			Payload:       payload,
		}, true
	}
	return Result{}, false
}

func closePosition(b ohlcv.Bar) string {
	loc := b.CloseLocation()
	switch {
	case loc >= 0.75:
		return "in_highs"
	case loc >= 0.5:
		return "off_highs"
	case loc > 0.25:
		return "off_lows"
	}
	return "in_lows"
}

// passesVolumeGate checks the last closed bar's USD volume against the
// timeframe floor, or the caller's override.
func passesVolumeGate(frame *ohlcv.Frame, cfg Config) bool {
	i, ok := frame.Abs(-2)
	if !ok {
		return false
	}
	min := frame.TF.MinVolumeUSD()
	if cfg.MinVolumeUSD != nil {
		min = *cfg.MinVolumeUSD
	}
	return frame.QuoteVolumeUSD(i) >= min
}

// ExchangeScanner walks a venue's symbols in batches, fanning the symbol
// scanner out inside each batch and pausing between batches.
type ExchangeScanner struct {
	Client     exchange.Client
	Cache      *framecache.Cache
	Metrics    *telemetry.Metrics // optional
	BatchSize  int
	BatchDelay time.Duration
}

const (
	defaultBatchSize  = 25
	defaultBatchDelay = 500 * time.Millisecond
)

func (e *ExchangeScanner) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return defaultBatchSize
}

func (e *ExchangeScanner) batchDelay() time.Duration {
	if e.BatchDelay > 0 {
		return e.BatchDelay
	}
	return defaultBatchDelay
}

// ScanAll scans every listed symbol and groups results by strategy. Symbol
// failures are logged and skipped; only context cancellation aborts the
// loop.
func (e *ExchangeScanner) ScanAll(ctx context.Context, tf timeframe.Timeframe, cfg Config) (map[string][]Result, error) {
	symbols, err := e.Client.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("venue", e.Client.Name()).
		Str("timeframe", tf.String()).
		Int("symbols", len(symbols)).
		Msg("scanning venue")

	sym := &SymbolScanner{Client: e.Client, Cache: e.Cache, Metrics: e.Metrics}
	out := make(map[string][]Result)
	var mu sync.Mutex

	size := e.batchSize()
	for start := 0; start < len(symbols); start += size {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for _, symbol := range symbols[start:end] {
			wg.Add(1)
			go func(symbol string) {
				defer wg.Done()
				results, err := sym.Scan(ctx, tf, symbol, cfg)
				if err != nil {
					log.Warn().
						Str("venue", e.Client.Name()).
						Str("symbol", symbol).
						Err(err).
						Msg("symbol scan failed")
					return
				}
				if len(results) == 0 {
					return
				}
				mu.Lock()
				for _, r := range results {
					out[r.Strategy] = append(out[r.Strategy], r)
				}
				mu.Unlock()
			}(symbol)
		}
		wg.Wait()

		if end < len(symbols) {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(e.batchDelay()):
			}
		}
	}
	return out, nil
}
