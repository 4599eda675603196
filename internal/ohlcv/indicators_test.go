package ohlcv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanStd(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	assert.InDelta(t, 5.0, Mean(vals, 7, 8), 1e-12)
	// Sample std of the full series.
	assert.InDelta(t, 2.13809, Std(vals, 7, 8), 1e-4)

	assert.True(t, math.IsNaN(Mean(vals, 7, 9)))
	assert.True(t, math.IsNaN(Std(vals, 0, 2)))
}

func TestWMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	// (1*1 + 2*2 + 3*3 + 4*4) / 10
	assert.InDelta(t, 3.0, WMA(vals, 3, 4), 1e-12)
	assert.True(t, math.IsNaN(WMA(vals, 2, 4)))
}

func TestEMASeries(t *testing.T) {
	vals := []float64{10, 10, 10, 10}
	ema := EMASeries(vals, 3)
	for _, v := range ema {
		assert.InDelta(t, 10.0, v, 1e-12)
	}

	rising := EMASeries([]float64{1, 2, 3, 4, 5}, 3)
	assert.Less(t, rising[4], 5.0)
	assert.Greater(t, rising[4], rising[3])
}

func TestHighestLowestPercentile(t *testing.T) {
	vals := []float64{3, 1, 4, 1, 5, 9, 2, 6}

	assert.Equal(t, 9.0, Highest(vals, 7, 8))
	assert.Equal(t, 1.0, Lowest(vals, 7, 8))
	assert.Equal(t, 9.0, Highest(vals, 5, 3))
	assert.Equal(t, 1.0, Lowest(vals, 4, 2))

	// 7 of 8 values are <= 6.
	assert.InDelta(t, 87.5, PercentileRank(vals, 7, 8, 6), 1e-12)
	assert.InDelta(t, 100.0, PercentileRank(vals, 7, 8, 9), 1e-12)
	// only the two 1s are <= 1.
	assert.InDelta(t, 25.0, PercentileRank(vals, 7, 8, 1), 1e-12)
}

func TestATR(t *testing.T) {
	f := &Frame{Bars: []Bar{
		{Open: 10, High: 12, Low: 9, Close: 11},
		{Open: 11, High: 13, Low: 10, Close: 12},
		{Open: 12, High: 16, Low: 12, Close: 15}, // gap up, TR vs prev close
	}}

	assert.Equal(t, 3.0, TrueRange(f, 0))
	assert.Equal(t, 3.0, TrueRange(f, 1)) // max(3, |13-11|, |10-11|)
	assert.Equal(t, 4.0, TrueRange(f, 2)) // max(4, |16-12|, |12-12|)

	assert.InDelta(t, (3.0+3.0+4.0)/3.0, ATR(f, 2, 3), 1e-12)
	assert.True(t, math.IsNaN(ATR(f, 1, 3)))

	series := ATRSeries(f, 2)
	require.Len(t, series, 3)
	assert.True(t, math.IsNaN(series[0]))
	assert.InDelta(t, 3.0, series[1], 1e-12)
	assert.InDelta(t, 3.5, series[2], 1e-12)
}

func TestTheilSenExactLine(t *testing.T) {
	ys := []float64{1, 3, 5, 7, 9}
	slope, intercept := TheilSen(ys)
	assert.InDelta(t, 2.0, slope, 1e-12)
	assert.InDelta(t, 1.0, intercept, 1e-12)
}

func TestTheilSenOutlierRobust(t *testing.T) {
	// A single wild point barely moves the median slope.
	ys := []float64{1, 2, 3, 4, 100, 6, 7, 8, 9, 10}
	slope, _ := TheilSen(ys)
	assert.InDelta(t, 1.0, slope, 0.5)
}

func TestAtanDeg(t *testing.T) {
	assert.InDelta(t, 45.0, AtanDeg(1), 1e-9)
	assert.InDelta(t, -45.0, AtanDeg(-1), 1e-9)
	assert.InDelta(t, 0.0, AtanDeg(0), 1e-12)
}
