package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartwatch/chartwatch/internal/exchange"
	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/scanner"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// gauge tracks peak concurrency across fake venue loops.
type gauge struct {
	mu        sync.Mutex
	cur, peak int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()
}

func (g *gauge) leave() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

type fakeVenue struct {
	name  string
	g     *gauge
	stall time.Duration
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) ListSymbols(ctx context.Context) ([]string, error) {
	if v.g != nil {
		v.g.enter()
		defer v.g.leave()
	}
	if v.stall > 0 {
		time.Sleep(v.stall)
	}
	return []string{"BTCUSDT"}, nil
}

func (v *fakeVenue) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	var bars []ohlcv.Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, ohlcv.Bar{
			Ts: base.AddDate(0, 0, i), Open: 100, High: 101, Low: 99, Close: 100, Volume: 5000,
		})
	}
	return &ohlcv.Frame{Symbol: symbol, Venue: v.name, TF: tf, Bars: bars}, nil
}

func testOrchestrator(g *gauge, stall time.Duration) *Orchestrator {
	o := New()
	o.ClientFactory = func(venue string) (exchange.Client, error) {
		return &fakeVenue{name: venue, g: g, stall: stall}, nil
	}
	o.SpeedOf = func(venue string) exchange.SpeedClass { return exchange.Fast }
	return o
}

func baseOptions(venues []string, tfs ...timeframe.Timeframe) Options {
	return Options{
		Timeframes: tfs,
		Venues:     venues,
		Scan:       scanner.Config{Strategies: []string{"consolidation"}},
		StaggerMS:  -1,
		BatchDelay: time.Millisecond,
	}
}

// Monday 2025-03-24: 1d always active, 2d active (4 days past the anchor),
// 1w active, 3d inactive.
var monday = time.Date(2025, 3, 24, 12, 0, 0, 0, time.UTC)

func TestPhaseConcurrencyCap(t *testing.T) {
	g := &gauge{}
	o := testOrchestrator(g, 30*time.Millisecond)

	venues := []string{"v0", "v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8", "v9"}
	opts := baseOptions(venues, timeframe.D1)
	opts.FastMaxExchanges = 4

	_, err := o.RunSession(context.Background(), opts, monday)
	require.NoError(t, err)
	assert.LessOrEqual(t, g.peak, 4)
	assert.GreaterOrEqual(t, g.peak, 2, "venues should actually overlap")
}

func TestRunSessionMergesAcrossVenues(t *testing.T) {
	o := testOrchestrator(nil, 0)
	results, err := o.RunSession(context.Background(), baseOptions([]string{"va", "vb"}, timeframe.D1), monday)
	require.NoError(t, err)

	hits := results["consolidation"]
	require.Len(t, hits, 2)
	venues := map[string]bool{}
	for _, r := range hits {
		venues[r.Venue] = true
		assert.Equal(t, timeframe.D1, r.TF)
		assert.Equal(t, "BTCUSDT", r.Symbol)
	}
	assert.True(t, venues["va"] && venues["vb"])
}

func TestCalendarGatingSkipsInactiveTimeframes(t *testing.T) {
	o := testOrchestrator(nil, 0)
	// 3d is inactive on 2025-03-24 (4 days past the 2025-03-20 anchor).
	results, err := o.RunSession(context.Background(), baseOptions([]string{"va"}, timeframe.D3), monday)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDerivedTimeframeClearsCache(t *testing.T) {
	o := testOrchestrator(nil, 0)

	_, err := o.RunSession(context.Background(), baseOptions([]string{"va"}, timeframe.D1), monday)
	require.NoError(t, err)
	assert.Greater(t, o.Cache.Len(), 0, "native-only session keeps its frames")

	_, err = o.RunSession(context.Background(), baseOptions([]string{"va"}, timeframe.D2), monday)
	require.NoError(t, err)
	assert.Equal(t, 0, o.Cache.Len(), "derived session must clear the cache")
}

type captureSink struct {
	mu   sync.Mutex
	seen []map[string][]scanner.Result
}

func (s *captureSink) Deliver(ctx context.Context, results map[string][]scanner.Result) error {
	s.mu.Lock()
	s.seen = append(s.seen, results)
	s.mu.Unlock()
	return nil
}

func TestRunTickDeliversToSinks(t *testing.T) {
	o := testOrchestrator(nil, 0)
	sink := &captureSink{}
	o.Sinks = []ResultSink{sink}

	w := NewWatcher(o)
	opts := WatchOptions{
		Options:     baseOptions([]string{"va"}, timeframe.D1),
		BreatherMin: time.Millisecond,
		BreatherMax: 2 * time.Millisecond,
	}
	require.NoError(t, w.RunTick(context.Background(), opts, monday))

	require.Len(t, sink.seen, 1)
	assert.Len(t, sink.seen[0]["consolidation"], 1)
}

func TestBuildPriorityGroups(t *testing.T) {
	o := New()
	opts := WatchOptions{
		Options: Options{
			Venues: []string{"binance", "binance_futures", "kucoin"},
			Scan: scanner.Config{
				Strategies: []string{"confluence", "hbs_breakout", "vs_wakeup"},
			},
		},
		FuturesStrategies: []string{"volume_surge"},
	}
	groups := buildPriorityGroups(o, opts)
	require.Len(t, groups, 5)

	assert.Equal(t, "fast_primary", groups[0].name)
	assert.Equal(t, []string{"binance", "binance_futures"}, groups[0].venues)
	assert.Equal(t, []string{"confluence"}, groups[0].strategies)

	assert.Equal(t, []string{"hbs_breakout", "vs_wakeup"}, groups[1].strategies)
	assert.Equal(t, []string{"binance_futures"}, groups[2].venues)
	assert.Equal(t, []string{"volume_surge"}, groups[2].strategies)

	assert.Equal(t, "slow_primary", groups[3].name)
	assert.Equal(t, []string{"kucoin"}, groups[3].venues)
}

func TestNextBoundary(t *testing.T) {
	now := time.Date(2025, 3, 24, 10, 0, 0, 0, time.UTC)
	next := nextBoundary(now, []timeframe.Timeframe{timeframe.D1, timeframe.H4})
	assert.Equal(t, time.Date(2025, 3, 24, 12, 0, 0, 0, time.UTC), next, "4h closes first")

	next = nextBoundary(now, []timeframe.Timeframe{timeframe.D1})
	assert.Equal(t, time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC), next)
}

func TestWatcherStateTransitions(t *testing.T) {
	o := testOrchestrator(nil, 0)
	w := NewWatcher(o)
	assert.Equal(t, StateIdle, w.State())
	w.setState(StateScanning)
	assert.Equal(t, StateScanning, w.State())
	assert.Equal(t, "scanning", StateScanning.String())
	assert.Equal(t, "cooling_down", StateCoolingDown.String())
}
