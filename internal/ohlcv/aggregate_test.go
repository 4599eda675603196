package ohlcv

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartwatch/chartwatch/internal/timeframe"
)

func dailyFrame(start time.Time, n int) *Frame {
	bars := make([]Bar, n)
	for i := range bars {
		px := 100 + float64(i)
		bars[i] = Bar{
			Ts:     start.AddDate(0, 0, i),
			Open:   px,
			High:   px + 2,
			Low:    px - 2,
			Close:  px + 1,
			Volume: 10,
		}
	}
	return &Frame{Symbol: "TEST", Venue: "binance", TF: timeframe.D1, Bars: bars}
}

// Eight consecutive days starting on the 2d reference date fold into four
// two-day bars stamped 03-20, 03-22, 03-24, 03-26.
func TestAggregate2dAnchoring(t *testing.T) {
	ref := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	daily := dailyFrame(ref, 10)

	agg, err := Aggregate(daily, timeframe.D2)
	require.NoError(t, err)
	require.Equal(t, 5, agg.Len())

	want := []time.Time{
		ref,
		ref.AddDate(0, 0, 2),
		ref.AddDate(0, 0, 4),
		ref.AddDate(0, 0, 6),
		ref.AddDate(0, 0, 8),
	}
	for i, ts := range want {
		assert.Equal(t, ts, agg.Bars[i].Ts, "bar %d", i)
	}
}

func TestAggregateOHLCVIdentities(t *testing.T) {
	ref := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	daily := dailyFrame(ref, 12)

	agg, err := Aggregate(daily, timeframe.D3)
	require.NoError(t, err)
	require.Equal(t, 4, agg.Len())

	// First 3d bar folds days 0..2.
	b := agg.Bars[0]
	assert.Equal(t, daily.Bars[0].Open, b.Open)
	assert.Equal(t, daily.Bars[2].Close, b.Close)
	assert.Equal(t, daily.Bars[2].High, b.High) // highs rise monotonically here
	assert.Equal(t, daily.Bars[0].Low, b.Low)
	assert.Equal(t, 30.0, b.Volume)
}

func TestAggregateCommutesWithPrefixTruncation(t *testing.T) {
	ref := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	daily := dailyFrame(ref, 20)

	full, err := Aggregate(daily, timeframe.D2)
	require.NoError(t, err)

	prefix := &Frame{Symbol: daily.Symbol, Venue: daily.Venue, TF: daily.TF, Bars: daily.Bars[:14]}
	part, err := Aggregate(prefix, timeframe.D2)
	require.NoError(t, err)

	require.Equal(t, 7, part.Len())
	for i := range part.Bars {
		assert.Equal(t, full.Bars[i], part.Bars[i], "bar %d", i)
	}
}

func TestAggregateDeterminism(t *testing.T) {
	daily := dailyFrame(time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), 17)
	a, err := Aggregate(daily, timeframe.D4)
	require.NoError(t, err)
	b, err := Aggregate(daily, timeframe.D4)
	require.NoError(t, err)
	assert.Equal(t, a.Bars, b.Bars)
}

func TestWeeklyMondayAnchored(t *testing.T) {
	// 2025-03-19 is a Wednesday; the first full Monday week starts 03-24.
	start := time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC)
	daily := dailyFrame(start, 15)

	weekly, err := Weekly(daily)
	require.NoError(t, err)
	require.Equal(t, 3, weekly.Len())

	// First (partial) week keeps its first daily timestamp.
	assert.Equal(t, start, weekly.Bars[0].Ts)
	assert.Equal(t, time.Monday, weekly.Bars[1].Ts.Weekday())
	assert.Equal(t, time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC), weekly.Bars[1].Ts)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), weekly.Bars[2].Ts)

	// Week of 03-24 folds 7 daily bars.
	assert.Equal(t, 70.0, weekly.Bars[1].Volume)
}

func TestAggregateInsufficientData(t *testing.T) {
	daily := dailyFrame(time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), 9)
	_, err := Aggregate(daily, timeframe.D2)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestAggregateRejectsNativeTimeframe(t *testing.T) {
	daily := dailyFrame(time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), 12)
	_, err := Aggregate(daily, timeframe.D1)
	assert.Error(t, err)
}
