package ohlcv

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartwatch/chartwatch/internal/timeframe"
)

func day(d int) time.Time {
	return time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func flatBar(ts time.Time, px, vol float64) Bar {
	return Bar{Ts: ts, Open: px, High: px, Low: px, Close: px, Volume: vol}
}

func TestNormalizeSortsDedupesAndDropsNaN(t *testing.T) {
	bars := []Bar{
		flatBar(day(2), 102, 10),
		flatBar(day(0), 100, 10),
		{Ts: day(1), Open: math.NaN(), High: 1, Low: 1, Close: 1, Volume: 1},
		flatBar(day(1), 101, 10),
		flatBar(day(0), 99, 5), // duplicate ts, later row wins
	}

	f := Normalize("BTCUSDT", "binance", timeframe.D1, bars)
	require.Equal(t, 3, f.Len())
	assert.Equal(t, day(0), f.Bars[0].Ts)
	assert.Equal(t, 99.0, f.Bars[0].Close)
	assert.Equal(t, day(1), f.Bars[1].Ts)
	assert.Equal(t, 101.0, f.Bars[1].Close)
	assert.Equal(t, day(2), f.Bars[2].Ts)
}

func TestNormalizeForcesUTC(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	f := Normalize("E", "v", timeframe.D1, []Bar{flatBar(day(0).In(loc), 1, 1)})
	require.Equal(t, 1, f.Len())
	assert.Equal(t, time.UTC, f.Bars[0].Ts.Location())
}

func TestAbsCheckBarResolution(t *testing.T) {
	f := &Frame{Bars: []Bar{flatBar(day(0), 1, 1), flatBar(day(1), 2, 1), flatBar(day(2), 3, 1)}}

	i, ok := f.Abs(-1)
	require.True(t, ok)
	assert.Equal(t, 2, i)

	i, ok = f.Abs(-2)
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = f.Abs(-4)
	assert.False(t, ok)

	i, ok = f.Abs(0)
	require.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestQuoteVolumeUSDFallback(t *testing.T) {
	f := &Frame{Bars: []Bar{
		{Ts: day(0), Open: 10, High: 10, Low: 10, Close: 10, Volume: 100},
		{Ts: day(1), Open: 10, High: 10, Low: 10, Close: 10, Volume: 100, QuoteVolume: 1234},
	}}
	assert.Equal(t, 1000.0, f.QuoteVolumeUSD(0))
	assert.Equal(t, 1234.0, f.QuoteVolumeUSD(1))
}

func TestBarShapeHelpers(t *testing.T) {
	b := Bar{Open: 10, High: 14, Low: 9, Close: 12}
	assert.True(t, b.Up())
	assert.Equal(t, 5.0, b.Range())
	assert.Equal(t, 2.0, b.Body())
	assert.Equal(t, 2.0, b.UpperWick())
	assert.Equal(t, 1.0, b.LowerWick())
	assert.InDelta(t, 0.6, b.CloseLocation(), 1e-12)
	assert.Equal(t, 11.5, b.HL2())
}
