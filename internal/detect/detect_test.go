package detect

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

func mkFrame(bars []ohlcv.Bar) *ohlcv.Frame {
	base := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i].Ts = base.AddDate(0, 0, i)
	}
	return &ohlcv.Frame{Symbol: "BTCUSDT", Venue: "bybit", TF: timeframe.D1, Bars: bars}
}

func flatBar(px, vol float64) ohlcv.Bar {
	return ohlcv.Bar{Open: px, High: px + 1, Low: px - 1, Close: px, Volume: vol}
}

func TestRegistryHasAllStrategies(t *testing.T) {
	want := []string{
		"breakout_bar", "stop_bar", "reversal_bar", "start_bar", "loaded_bar", "test_bar",
		"volume_surge", "pin_down", "pin_up", "confluence",
		"consolidation", "consolidation_breakout", "channel_breakout", "wedge_breakout",
		"sma50_breakout", "trend_breakout", "bullish_engulfing",
		"hbs_breakout", "vs_wakeup",
	}
	for _, name := range want {
		_, ok := Lookup(name)
		assert.True(t, ok, name)
	}
	assert.Len(t, Names(), len(want))
}

func TestShortFrameNeverFires(t *testing.T) {
	f := mkFrame([]ohlcv.Bar{flatBar(100, 10), flatBar(100, 10), flatBar(100, 10)})
	for _, name := range Names() {
		d, _ := Lookup(name)
		detected, payload := d(f, -1)
		assert.False(t, detected, name)
		assert.Nil(t, payload, name)
	}
}

// Detectors are pure: two evaluations of the same frame and bar agree.
func TestDetectorPurity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	bars := make([]ohlcv.Bar, 0, 120)
	px := 100.0
	for i := 0; i < 120; i++ {
		move := (rng.Float64() - 0.48) * 4
		open := px
		px += move
		hi := math.Max(open, px) + rng.Float64()*2
		lo := math.Min(open, px) - rng.Float64()*2
		bars = append(bars, ohlcv.Bar{
			Open: open, High: hi, Low: lo, Close: px,
			Volume: 50 + rng.Float64()*200,
		})
	}
	f := mkFrame(bars)
	for _, name := range Names() {
		d, _ := Lookup(name)
		for _, check := range []int{-1, -2} {
			d1, p1 := d(f, check)
			d2, p2 := d(f, check)
			assert.Equal(t, d1, d2, name)
			assert.Equal(t, p1, p2, name)
		}
	}
}

// Ten bars pinned to high=101/low=99, then a close at 103: the box holds
// through bar ten and the eleventh bar breaks it upward.
func TestConsolidationThenBreakout(t *testing.T) {
	boxed := make([]ohlcv.Bar, 0, 11)
	for i := 0; i < 10; i++ {
		boxed = append(boxed, ohlcv.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 100})
	}

	inside := mkFrame(append([]ohlcv.Bar{}, boxed...))
	detected, payload := registry["consolidation"](inside, -1)
	require.True(t, detected)
	assert.Equal(t, 101.0, payload["box_high"])
	assert.Equal(t, 99.0, payload["box_low"])
	assert.InDelta(t, 2.0, payload["height_pct"].(float64), 1e-9)

	full := mkFrame(append(boxed, ohlcv.Bar{Open: 100.5, High: 103.5, Low: 100.5, Close: 103, Volume: 300}))
	detected, _ = registry["consolidation"](full, -2)
	assert.True(t, detected, "bar ten is still inside the box")
	detected, _ = registry["consolidation"](full, -1)
	assert.False(t, detected)

	detected, payload = registry["consolidation_breakout"](full, -1)
	require.True(t, detected)
	assert.Equal(t, DirUp, payload["direction"])
	assert.Equal(t, "Strong", payload["strength"], "flat internal channel is broken too")

	detected, _ = registry["consolidation_breakout"](full, -2)
	assert.False(t, detected)
}

// expFrame builds a clean exponential uptrend: a perfect log channel with
// rising absolute volatility, so no consolidation box ever forms.
func expFrame(n int) []ohlcv.Bar {
	bars := make([]ohlcv.Bar, 0, n)
	for i := 0; i < n; i++ {
		c := 100 * math.Pow(1.02, float64(i))
		open := c / 1.02
		bars = append(bars, ohlcv.Bar{
			Open: open, High: c * 1.005, Low: c / 1.005, Close: c, Volume: 100,
		})
	}
	return bars
}

func TestChannelBreakout(t *testing.T) {
	bars := expFrame(59)
	base := 100 * math.Pow(1.02, 59)
	last := ohlcv.Bar{
		Open:   bars[58].Close,
		Close:  base * 1.05,
		High:   base * 1.052,
		Low:    bars[58].Close * 0.999,
		Volume: 500,
	}
	f := mkFrame(append(bars, last))

	detected, payload := registry["channel_breakout"](f, -1)
	require.True(t, detected)
	assert.Equal(t, DirUp, payload["direction"])
	assert.InDelta(t, math.Log(1.02), payload["slope"].(float64), 1e-3)

	detected, _ = registry["consolidation_breakout"](f, -1)
	assert.False(t, detected, "rising volatility keeps boxes from forming")
}

func TestHBSBreakoutComposition(t *testing.T) {
	bars := expFrame(59)
	base := 100 * math.Pow(1.02, 59)
	last := ohlcv.Bar{
		Open:   bars[58].Close,
		Close:  base * 1.05,
		High:   base * 1.052,
		Low:    bars[58].Close * 0.999,
		Volume: 500,
	}
	f := mkFrame(append(bars, last))

	confOK, _ := registry["confluence"](f, -1)
	require.True(t, confOK, "confluence must fire for hbs to compose")

	detected, payload := registry["hbs_breakout"](f, -1)
	require.True(t, detected)
	assert.Equal(t, "channel_breakout", payload["breakout_type"])
	assert.Equal(t, "Up", payload["direction"])

	// Composed implies primitives.
	boxOK, _ := registry["consolidation_breakout"](f, -1)
	chanOK, _ := registry["channel_breakout"](f, -1)
	assert.True(t, boxOK || chanOK)
}

func TestSMA50BreakoutStrength(t *testing.T) {
	build := func(last ohlcv.Bar) *ohlcv.Frame {
		bars := make([]ohlcv.Bar, 0, 58)
		for i := 0; i < 57; i++ {
			bars = append(bars, ohlcv.Bar{Open: 100, High: 100.2, Low: 99.8, Close: 100, Volume: 50})
		}
		last.Volume = 80
		return mkFrame(append(bars, last))
	}

	cases := []struct {
		name     string
		bar      ohlcv.Bar
		strength string
	}{
		{"shallow", ohlcv.Bar{Open: 99, Low: 98, High: 100.5, Close: 100.2}, "Regular"},
		{"half", ohlcv.Bar{Open: 96, Low: 95, High: 105, Close: 104}, "Regular"},
		{"strong", ohlcv.Bar{Open: 99.6, Low: 99.5, High: 105, Close: 104}, "Strong"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			detected, payload := registry["sma50_breakout"](build(tc.bar), -1)
			require.True(t, detected)
			assert.Equal(t, "regular", payload["breakout_type"])
			assert.Equal(t, tc.strength, payload["strength"])
		})
	}
}

func TestSMA50CleanFilterRejectsRetest(t *testing.T) {
	bars := make([]ohlcv.Bar, 0, 58)
	for i := 0; i < 57; i++ {
		px := 100.0
		if i == 54 {
			px = 103 // a recent close already well above the line
		}
		bars = append(bars, ohlcv.Bar{Open: px, High: px + 0.2, Low: px - 0.2, Close: px, Volume: 50})
	}
	bars = append(bars, ohlcv.Bar{Open: 99, Low: 98, High: 100.5, Close: 100.4, Volume: 80})
	detected, _ := registry["sma50_breakout"](mkFrame(bars), -1)
	assert.False(t, detected)
}

func TestVolumeSurge(t *testing.T) {
	bars := make([]ohlcv.Bar, 0, 70)
	for i := 0; i < 70; i++ {
		vol := 90.0
		if i%2 == 0 {
			vol = 110
		}
		bars = append(bars, ohlcv.Bar{Open: 100, High: 101, Low: 99, Close: 100.5, Volume: vol})
	}
	bars[68].Volume = 500
	f := mkFrame(bars)

	detected, payload := registry["volume_surge"](f, -1)
	require.True(t, detected)
	assert.Equal(t, 500.0, payload["surge_volume"])
	assert.Greater(t, payload["volume_sigma"].(float64), 4.0)

	quiet := make([]ohlcv.Bar, len(bars))
	copy(quiet, bars)
	quiet[68].Volume = 120
	detected, _ = registry["volume_surge"](mkFrame(quiet), -1)
	assert.False(t, detected)
}

func TestTestBar(t *testing.T) {
	bars := make([]ohlcv.Bar, 0, 60)
	for i := 0; i < 58; i++ {
		bars = append(bars, ohlcv.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 100})
	}
	bars = append(bars,
		ohlcv.Bar{Open: 99.5, High: 102, Low: 98, Close: 100.5, Volume: 150},
		ohlcv.Bar{Open: 100.4, High: 100.8, Low: 99.6, Close: 100.2, Volume: 50},
	)
	detected, payload := registry["test_bar"](mkFrame(bars), -1)
	require.True(t, detected)
	assert.InDelta(t, 50.0/150.0, payload["volume_ratio"].(float64), 1e-9)
}

func TestPinUpFiresOnceAtConfirmation(t *testing.T) {
	bars := make([]ohlcv.Bar, 60)
	for i := range bars {
		bars[i] = ohlcv.Bar{Open: 100.1, High: 101, Low: 99, Close: 99.9, Volume: 100}
	}
	// Anchor: a lower-wick rejection at the 50-bar low.
	bars[56] = ohlcv.Bar{Open: 99.8, High: 100.0, Low: 98.5, Close: 99.9, Volume: 130}
	// Confirmation: a wide bar closing above the anchor's high.
	bars[59] = ohlcv.Bar{Open: 99.5, High: 101.5, Low: 99.4, Close: 101.3, Volume: 160}

	f := mkFrame(bars)
	detected, payload := registry["pin_up"](f, -1)
	require.True(t, detected)
	assert.Equal(t, DirUp, payload["direction"])
	assert.Equal(t, 3, payload["anchor_age"])

	detected, _ = registry["pin_up"](f, -2)
	assert.False(t, detected, "no confirmation close before the final bar")
}

func TestConfluenceReportsPillars(t *testing.T) {
	bars := expFrame(59)
	base := 100 * math.Pow(1.02, 59)
	bars = append(bars, ohlcv.Bar{
		Open: bars[58].Close, Close: base * 1.05, High: base * 1.052, Low: bars[58].Close * 0.999, Volume: 500,
	})
	detected, payload := registry["confluence"](mkFrame(bars), -1)
	require.True(t, detected)
	assert.Equal(t, DirUp, payload["direction"])
	assert.Equal(t, true, payload["has_volume_breakout"])
	assert.Equal(t, true, payload["has_spread_breakout"])
	assert.Equal(t, true, payload["has_momentum_breakout"])
	assert.Equal(t, false, payload["is_engulfing_reversal"])
}
