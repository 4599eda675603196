package ohlcv

import (
	"math"
	"sort"
)

// Rolling helpers all evaluate a window of n values ending at (and including)
// index i and return NaN when the window does not fit. Standard deviation is
// the sample deviation (n-1 divisor), matching the behaviour the detector
// thresholds were tuned against.

// Mean returns the mean of vals[i-n+1..i].
func Mean(vals []float64, i, n int) float64 {
	if n <= 0 || i-n+1 < 0 || i >= len(vals) {
		return math.NaN()
	}
	sum := 0.0
	for j := i - n + 1; j <= i; j++ {
		sum += vals[j]
	}
	return sum / float64(n)
}

// Std returns the sample standard deviation of vals[i-n+1..i].
func Std(vals []float64, i, n int) float64 {
	if n <= 1 || i-n+1 < 0 || i >= len(vals) {
		return math.NaN()
	}
	m := Mean(vals, i, n)
	sum := 0.0
	for j := i - n + 1; j <= i; j++ {
		d := vals[j] - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// SMA is Mean under its conventional name.
func SMA(vals []float64, i, n int) float64 { return Mean(vals, i, n) }

// WMA returns the linearly weighted mean of vals[i-n+1..i], newest heaviest.
func WMA(vals []float64, i, n int) float64 {
	if n <= 0 || i-n+1 < 0 || i >= len(vals) {
		return math.NaN()
	}
	var sum, wsum float64
	for k := 1; k <= n; k++ {
		v := vals[i-n+k]
		sum += v * float64(k)
		wsum += float64(k)
	}
	return sum / wsum
}

// EMASeries returns the full exponential moving average series with the first
// value as seed and alpha = 2/(n+1).
func EMASeries(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	alpha := 2.0 / (float64(n) + 1.0)
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Highest returns the maximum of vals[i-n+1..i].
func Highest(vals []float64, i, n int) float64 {
	if n <= 0 || i-n+1 < 0 || i >= len(vals) {
		return math.NaN()
	}
	hi := vals[i-n+1]
	for j := i - n + 2; j <= i; j++ {
		if vals[j] > hi {
			hi = vals[j]
		}
	}
	return hi
}

// Lowest returns the minimum of vals[i-n+1..i].
func Lowest(vals []float64, i, n int) float64 {
	if n <= 0 || i-n+1 < 0 || i >= len(vals) {
		return math.NaN()
	}
	lo := vals[i-n+1]
	for j := i - n + 2; j <= i; j++ {
		if vals[j] < lo {
			lo = vals[j]
		}
	}
	return lo
}

// PercentileRank returns the percentage of values in vals[i-n+1..i] that are
// less than or equal to x.
func PercentileRank(vals []float64, i, n int, x float64) float64 {
	if n <= 0 || i-n+1 < 0 || i >= len(vals) {
		return math.NaN()
	}
	count := 0
	for j := i - n + 1; j <= i; j++ {
		if vals[j] <= x {
			count++
		}
	}
	return 100 * float64(count) / float64(n)
}

// TrueRange returns the true range of bar i, using the previous close when
// one exists.
func TrueRange(f *Frame, i int) float64 {
	b := f.Bars[i]
	if i == 0 {
		return b.Range()
	}
	prev := f.Bars[i-1].Close
	return math.Max(b.Range(), math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
}

// ATR returns the simple moving average of true range over n bars ending at
// i, or NaN when fewer than n bars are available.
func ATR(f *Frame, i, n int) float64 {
	if n <= 0 || i-n+1 < 0 || i >= f.Len() {
		return math.NaN()
	}
	sum := 0.0
	for j := i - n + 1; j <= i; j++ {
		sum += TrueRange(f, j)
	}
	return sum / float64(n)
}

// ATRSeries precomputes ATR(n) for every index of the frame.
func ATRSeries(f *Frame, n int) []float64 {
	out := make([]float64, f.Len())
	for i := range out {
		out[i] = ATR(f, i, n)
	}
	return out
}

// TheilSen fits y = slope*x + intercept over ys with x = 0..len-1 using the
// median of pairwise slopes, which keeps channel fits stable under outlier
// bars. Returns NaNs for fewer than two points.
func TheilSen(ys []float64) (slope, intercept float64) {
	n := len(ys)
	if n < 2 {
		return math.NaN(), math.NaN()
	}
	slopes := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			slopes = append(slopes, (ys[j]-ys[i])/float64(j-i))
		}
	}
	slope = median(slopes)
	resid := make([]float64, n)
	for i, y := range ys {
		resid[i] = y - slope*float64(i)
	}
	intercept = median(resid)
	return slope, intercept
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// AtanDeg returns atan(x) in degrees.
func AtanDeg(x float64) float64 { return math.Atan(x) * 180 / math.Pi }
