package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// The VSA condition vocabulary. Each predicate looks at one bar (absolute
// index i) plus rolling context and answers a single question; the bar
// detectors in vsa.go are parameter bundles over these.

type band int

const (
	bandLow band = iota
	bandNormal
	bandHigh
	bandAbnormal
)

// bandParams controls the rolling mean/std classification shared by spread,
// volume and momentum bands.
type bandParams struct {
	lookback     int
	k            float64
	abnormalMult float64
}

var defaultBand = bandParams{lookback: 21, k: 1.0, abnormalMult: 2.5}

// classifyBand places vals[i] against mean ± k·std of the lookback window.
func classifyBand(vals []float64, i int, p bandParams) band {
	mean := ohlcv.Mean(vals, i, p.lookback)
	std := ohlcv.Std(vals, i, p.lookback)
	if math.IsNaN(mean) || math.IsNaN(std) {
		return bandNormal
	}
	v := vals[i]
	switch {
	case v > mean+p.abnormalMult*p.k*std:
		return bandAbnormal
	case v > mean+p.k*std:
		return bandHigh
	case v < mean-p.k*std:
		return bandLow
	}
	return bandNormal
}

func spreadBand(f *ohlcv.Frame, i int, p bandParams) band {
	return classifyBand(f.Spreads(), i, p)
}

func volumeBand(f *ohlcv.Frame, i int, p bandParams) band {
	return classifyBand(f.Volumes(), i, p)
}

// momentumBand classifies |close − prev close| against its own rolling band.
func momentumBand(f *ohlcv.Frame, i int, p bandParams) band {
	closes := f.Closes()
	moves := make([]float64, len(closes))
	for j := 1; j < len(closes); j++ {
		moves[j] = math.Abs(closes[j] - closes[j-1])
	}
	return classifyBand(moves, i, p)
}

// Close-location predicates over (close−low)/(high−low).

func closesInHighs(b ohlcv.Bar) bool  { return b.CloseLocation() >= 0.75 }
func closesOffHighs(b ohlcv.Bar) bool { return b.CloseLocation() >= 0.5 }
func closesInLows(b ohlcv.Bar) bool   { return b.CloseLocation() <= 0.25 }
func closesOffLows(b ohlcv.Bar) bool  { return b.CloseLocation() <= 0.5 }

// Bar direction relative to the previous close.
func barUp(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].Close > f.Bars[i-1].Close
}

func barDown(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].Close < f.Bars[i-1].Close
}

// Bar type relative to the previous bar's range.

func isNewHigh(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].High > f.Bars[i-1].High && f.Bars[i].Low >= f.Bars[i-1].Low
}

func isNewLow(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].Low < f.Bars[i-1].Low && f.Bars[i].High <= f.Bars[i-1].High
}

func isInside(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].High <= f.Bars[i-1].High && f.Bars[i].Low >= f.Bars[i-1].Low
}

func isOutside(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].High > f.Bars[i-1].High && f.Bars[i].Low < f.Bars[i-1].Low
}

func isNewHighOrOutside(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].High > f.Bars[i-1].High
}

func isNewLowOrOutside(f *ohlcv.Frame, i int) bool {
	return i > 0 && f.Bars[i].Low < f.Bars[i-1].Low
}

// macroParams tunes the macro-position predicates: three rolling lookbacks
// for the price-based variant and a count percentile for the count-based one.
type macroParams struct {
	lookbacks [3]int  // short, medium, long
	proximity float64 // fraction of the extreme, price-based V1
	countFrac float64 // fraction of directional moves, count-based V2
}

var defaultMacro = macroParams{
	lookbacks: [3]int{20, 50, 100},
	proximity: 0.05,
	countFrac: 0.55,
}

// macroLowV1: the bar's low sits within proximity of the rolling minimum for
// at least one lookback that fits the frame.
func macroLowV1(f *ohlcv.Frame, i int, p macroParams) bool {
	lows := f.Lows()
	for _, n := range p.lookbacks {
		lo := ohlcv.Lowest(lows, i, n)
		if math.IsNaN(lo) {
			continue
		}
		if f.Bars[i].Low <= lo*(1+p.proximity) {
			return true
		}
	}
	return false
}

func macroHighV1(f *ohlcv.Frame, i int, p macroParams) bool {
	highs := f.Highs()
	for _, n := range p.lookbacks {
		hi := ohlcv.Highest(highs, i, n)
		if math.IsNaN(hi) {
			continue
		}
		if f.Bars[i].High >= hi*(1-p.proximity) {
			return true
		}
	}
	return false
}

// macroLowV2: the fraction of lower-lows over the medium lookback is high
// enough that price has been walking down into this bar.
func macroLowV2(f *ohlcv.Frame, i int, p macroParams) bool {
	n := p.lookbacks[1]
	if i-n < 0 {
		return false
	}
	count := 0
	for j := i - n + 1; j <= i; j++ {
		if f.Bars[j].Low < f.Bars[j-1].Low {
			count++
		}
	}
	return float64(count)/float64(n) >= p.countFrac
}

func macroHighV2(f *ohlcv.Frame, i int, p macroParams) bool {
	n := p.lookbacks[1]
	if i-n < 0 {
		return false
	}
	count := 0
	for j := i - n + 1; j <= i; j++ {
		if f.Bars[j].High > f.Bars[j-1].High {
			count++
		}
	}
	return float64(count)/float64(n) >= p.countFrac
}

func macroLowStrict(f *ohlcv.Frame, i int, p macroParams) bool {
	return macroLowV1(f, i, p) && macroLowV2(f, i, p)
}

func macroHighStrict(f *ohlcv.Frame, i int, p macroParams) bool {
	return macroHighV1(f, i, p) && macroHighV2(f, i, p)
}

// breakoutClose: the close exceeds the highest close over the lookback minus
// a fraction of the current bar's range.
func breakoutClose(f *ohlcv.Frame, i, lookback int, pct float64) bool {
	hi := ohlcv.Highest(f.Closes(), i, lookback)
	if math.IsNaN(hi) {
		return false
	}
	return f.Bars[i].Close > hi-f.Bars[i].Range()*pct
}

// atanRatio: arctangent of the high advance over arctangent of the
// high-to-low drop, both in degrees. NaN when either leg degenerates.
func atanRatio(f *ohlcv.Frame, i int) float64 {
	if i == 0 {
		return math.NaN()
	}
	num := ohlcv.AtanDeg(f.Bars[i].High - f.Bars[i-1].High)
	den := ohlcv.AtanDeg(f.Bars[i-1].High - f.Bars[i].Low)
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// highBreakoutCount: over the lookback excluding the last two bars, the
// fraction of bars whose high is below the current close.
func highBreakoutCount(f *ohlcv.Frame, i, lookback int) float64 {
	lo := i - 2 - lookback + 1
	if lo < 0 || i < 2 {
		return math.NaN()
	}
	count := 0
	for j := lo; j <= i-2; j++ {
		if f.Bars[j].High < f.Bars[i].Close {
			count++
		}
	}
	return float64(count) / float64(lookback)
}

// wma3 averages the 7/13/21-bar weighted moving averages of vals at i, the
// triple-window smoothing used by the confluence and pin detectors.
func wma3(vals []float64, i int) float64 {
	w7 := ohlcv.WMA(vals, i, 7)
	w13 := ohlcv.WMA(vals, i, 13)
	w21 := ohlcv.WMA(vals, i, 21)
	if math.IsNaN(w7) || math.IsNaN(w13) || math.IsNaN(w21) {
		return math.NaN()
	}
	return (w7 + w13 + w21) / 3
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
