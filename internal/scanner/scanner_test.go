package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartwatch/chartwatch/internal/framecache"
	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// fakeClient serves canned frames and records fetch calls.
type fakeClient struct {
	mu      sync.Mutex
	name    string
	symbols []string
	frames  map[string]*ohlcv.Frame
	fetches int
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) ListSymbols(ctx context.Context) ([]string, error) {
	return c.symbols, nil
}

func (c *fakeClient) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	c.mu.Lock()
	c.fetches++
	c.mu.Unlock()
	if f, ok := c.frames[symbol]; ok {
		return f, nil
	}
	return &ohlcv.Frame{Symbol: symbol, Venue: c.name, TF: tf}, nil
}

// boxFrame is ten bars inside a 99..101 box with an optional breakout bar,
// with per-bar volume chosen by the caller.
func boxFrame(symbol string, vol float64, withBreakout bool) *ohlcv.Frame {
	base := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	var bars []ohlcv.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, ohlcv.Bar{
			Ts: base.AddDate(0, 0, i), Open: 100, High: 101, Low: 99, Close: 100, Volume: vol,
		})
	}
	if withBreakout {
		bars = append(bars, ohlcv.Bar{
			Ts: base.AddDate(0, 0, 10), Open: 100.5, High: 103.5, Low: 100.5, Close: 103, Volume: vol,
		})
	}
	return &ohlcv.Frame{Symbol: symbol, Venue: "bybit", TF: timeframe.D1, Bars: bars}
}

func TestVolumeGateBlocksDetections(t *testing.T) {
	// Volume 100 at close 100 is 10k USD, under the 75k floor for 1d.
	client := &fakeClient{name: "bybit", frames: map[string]*ohlcv.Frame{
		"BTCUSDT": boxFrame("BTCUSDT", 100, false),
	}}
	s := &SymbolScanner{Client: client, Cache: framecache.New()}

	results, err := s.Scan(context.Background(), timeframe.D1, "BTCUSDT", Config{
		Strategies: []string{"consolidation"},
	})
	require.NoError(t, err)
	assert.Empty(t, results, "gate must hide the detection entirely")

	// An override below the frame's USD volume lets it through.
	override := 1000.0
	results, err = s.Scan(context.Background(), timeframe.D1, "BTCUSDT", Config{
		Strategies:   []string{"consolidation"},
		MinVolumeUSD: &override,
		BarPolicy:    BarCurrent,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "consolidation", results[0].Strategy)
}

func TestBarPolicyMostRecentWins(t *testing.T) {
	client := &fakeClient{name: "bybit", frames: map[string]*ohlcv.Frame{
		// Volume 2000 at close ~100 clears the 1d gate.
		"BTCUSDT": boxFrame("BTCUSDT", 2000, false),
	}}
	s := &SymbolScanner{Client: client, Cache: framecache.New()}

	// Consolidation holds at both -1 and -2; "both" must report -1.
	results, err := s.Scan(context.Background(), timeframe.D1, "BTCUSDT", Config{
		Strategies: []string{"consolidation"},
		BarPolicy:  BarBoth,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, -1, results[0].CheckBar)

	// Default policy is last_closed.
	results, err = s.Scan(context.Background(), timeframe.D1, "BTCUSDT", Config{
		Strategies: []string{"consolidation"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, -2, results[0].CheckBar)
}

func TestScanTagsResults(t *testing.T) {
	client := &fakeClient{name: "bybit", frames: map[string]*ohlcv.Frame{
		"BTCUSDT": boxFrame("BTCUSDT", 2000, true),
	}}
	s := &SymbolScanner{Client: client, Cache: framecache.New()}

	results, err := s.Scan(context.Background(), timeframe.D1, "BTCUSDT", Config{
		Strategies: []string{"consolidation_breakout"},
		BarPolicy:  BarCurrent,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "BTCUSDT", r.Symbol)
	assert.Equal(t, "bybit", r.Venue)
	assert.Equal(t, timeframe.D1, r.TF)
	assert.Equal(t, 103.0, r.Close)
	assert.Equal(t, "in_highs", r.ClosePosition)
	assert.Equal(t, time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC), r.BarTs)
	assert.NotNil(t, r.Payload)
}

func TestScanUsesCache(t *testing.T) {
	client := &fakeClient{name: "bybit", frames: map[string]*ohlcv.Frame{
		"BTCUSDT": boxFrame("BTCUSDT", 2000, false),
	}}
	cache := framecache.New()
	s := &SymbolScanner{Client: client, Cache: cache}

	cfg := Config{Strategies: []string{"consolidation"}}
	_, err := s.Scan(context.Background(), timeframe.D1, "BTCUSDT", cfg)
	require.NoError(t, err)
	_, err = s.Scan(context.Background(), timeframe.D1, "BTCUSDT", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, client.fetches)
}

func TestShortFrameYieldsNothing(t *testing.T) {
	short := &ohlcv.Frame{Symbol: "NEWUSDT", Venue: "bybit", TF: timeframe.D1, Bars: []ohlcv.Bar{
		{Ts: time.Now().UTC(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1e9},
	}}
	client := &fakeClient{name: "bybit", frames: map[string]*ohlcv.Frame{"NEWUSDT": short}}
	s := &SymbolScanner{Client: client, Cache: framecache.New()}

	results, err := s.Scan(context.Background(), timeframe.D1, "NEWUSDT", Config{
		Strategies: []string{"consolidation"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExchangeScannerGroupsByStrategy(t *testing.T) {
	client := &fakeClient{
		name:    "bybit",
		symbols: []string{"AUSDT", "BUSDT", "CUSDT"},
		frames: map[string]*ohlcv.Frame{
			"AUSDT": boxFrame("AUSDT", 2000, true),
			"BUSDT": boxFrame("BUSDT", 2000, true),
			"CUSDT": boxFrame("CUSDT", 100, true), // gated out
		},
	}
	e := &ExchangeScanner{
		Client:     client,
		Cache:      framecache.New(),
		BatchSize:  2,
		BatchDelay: time.Millisecond,
	}

	out, err := e.ScanAll(context.Background(), timeframe.D1, Config{
		Strategies: []string{"consolidation_breakout"},
		BarPolicy:  BarCurrent,
	})
	require.NoError(t, err)
	require.Len(t, out["consolidation_breakout"], 2)
	symbols := map[string]bool{}
	for _, r := range out["consolidation_breakout"] {
		symbols[r.Symbol] = true
	}
	assert.True(t, symbols["AUSDT"] && symbols["BUSDT"])
}
