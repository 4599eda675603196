package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Confluence: three pillars evaluated at the checked bar. High volume,
// a spread breakout, and a momentum breakout must all hold in the same
// direction. The momentum pillar compares a composite positioning score
// against its triple-WMA baseline.

const (
	confluenceMinBars = 35
	contextWindow     = 7
)

func init() {
	Register("confluence", detectConfluence)
}

func detectConfluence(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < confluenceMinBars || i < confluenceMinBars-1 {
		return false, nil
	}
	for _, dir := range []int{DirUp, DirDown} {
		if !confluenceAt(f, i, dir) {
			continue
		}
		reversal := confluenceAt(f, i-1, -dir)
		return true, Payload{
			"direction":             dir,
			"close":                 f.Bars[i].Close,
			"is_engulfing_reversal": reversal,
			"at_macro_high":         macroHighV1(f, i, defaultMacro),
			"at_macro_low":          macroLowV1(f, i, defaultMacro),
			"has_volume_breakout":   highVolumePillar(f, i, dir),
			"has_spread_breakout":   spreadBreakoutPillar(f, i, dir),
			"has_momentum_breakout": momentumBreakoutPillar(f, i, dir),
		}
	}
	return false, nil
}

func confluenceAt(f *ohlcv.Frame, i, dir int) bool {
	if i < contextWindow+1 {
		return false
	}
	return highVolumePillar(f, i, dir) &&
		spreadBreakoutPillar(f, i, dir) &&
		momentumBreakoutPillar(f, i, dir)
}

// wakeupAt is the vs_wakeup variant: volume and spread pillars without the
// momentum requirement, bullish only.
func wakeupAt(f *ohlcv.Frame, i int) bool {
	if i < contextWindow+1 {
		return false
	}
	return highVolumePillar(f, i, DirUp) && spreadBreakoutPillar(f, i, DirUp)
}

func barDir(b ohlcv.Bar) int {
	if b.Up() {
		return DirUp
	}
	if b.Down() {
		return DirDown
	}
	return DirNone
}

// highVolumePillar: union of four relative-volume conditions, each comparing
// the checked bar's volume against a different baseline.
func highVolumePillar(f *ohlcv.Frame, i, dir int) bool {
	vols := f.Volumes()
	v := vols[i]

	// Serious volume vs the last opposite-direction bar.
	for j := i - 1; j >= 0 && j >= i-10; j-- {
		if barDir(f.Bars[j]) == -dir {
			if v > 1.5*vols[j] {
				return true
			}
			break
		}
	}
	// Absolute high vs the rolling mean.
	mean := ohlcv.Mean(vols, i, 21)
	std := ohlcv.Std(vols, i, 21)
	if !math.IsNaN(mean) && !math.IsNaN(std) && v > mean+std {
		return true
	}
	// Broader relative: vs the average of the last 3 same-direction bars.
	sum, n := 0.0, 0
	for j := i - 1; j >= 0 && n < 3; j-- {
		if barDir(f.Bars[j]) == dir {
			sum += vols[j]
			n++
		}
	}
	if n == 3 && v > 1.3*sum/3 {
		return true
	}
	// Local relative: vs the previous same-direction bar.
	for j := i - 1; j >= 0 && j >= i-10; j-- {
		if barDir(f.Bars[j]) == dir {
			return v > 1.2*vols[j]
		}
	}
	return false
}

// spreadBreakoutPillar: close pressed into the directional extreme of a bar
// whose spread beats the triple-WMA baseline and is the 3-bar maximum.
func spreadBreakoutPillar(f *ohlcv.Frame, i, dir int) bool {
	b := f.Bars[i]
	if b.Range() <= 0 {
		return false
	}
	loc := b.CloseLocation()
	if dir == DirDown {
		loc = 1 - loc
	}
	spreads := f.Spreads()
	base := wma3(spreads, i)
	if math.IsNaN(base) {
		return false
	}
	return loc > 0.7 &&
		spreads[i] >= 0.95*base &&
		spreads[i] >= ohlcv.Highest(spreads, i, 3)
}

// momentumScore computes the composite positioning score at index i:
// range_factor · pos_global² · pos_local² · pos_prev_local.
func momentumScore(f *ohlcv.Frame, i int) float64 {
	if i < contextWindow {
		return math.NaN()
	}
	// Context spans from the highest-range bar of the last 7 bars through i.
	start := i - contextWindow + 1
	maxJ := start
	for j := start; j <= i; j++ {
		if f.Bars[j].Range() > f.Bars[maxJ].Range() {
			maxJ = j
		}
	}
	ctxHigh, ctxLow := f.Bars[maxJ].High, f.Bars[maxJ].Low
	for j := maxJ; j <= i; j++ {
		ctxHigh = math.Max(ctxHigh, f.Bars[j].High)
		ctxLow = math.Min(ctxLow, f.Bars[j].Low)
	}
	ctxRange := ctxHigh - ctxLow
	if ctxRange <= 0 {
		return 0
	}

	b := f.Bars[i]
	rangeFactor := math.Max(b.Range()/ctxRange, 0.10)
	posGlobal := 2*(b.Close-ctxLow)/ctxRange - 1
	posLocal := 2*b.CloseLocation() - 1

	prev := f.Bars[i-1]
	x := 0.0
	if prev.Range() > 0 {
		x = 2*(b.Close-prev.Low)/prev.Range() - 1
	}
	posPrevLocal := 1 + 0.5*sign(x)*math.Sqrt(math.Abs(x))

	return rangeFactor * posGlobal * posGlobal * posLocal * posLocal * posPrevLocal
}

func momentumScoreSeries(f *ohlcv.Frame) []float64 {
	out := make([]float64, f.Len())
	for i := range out {
		out[i] = momentumScore(f, i)
	}
	return out
}

// momentumBreakoutPillar: the score beats its triple-WMA baseline and the
// bar closes in the pillar's direction.
func momentumBreakoutPillar(f *ohlcv.Frame, i, dir int) bool {
	if barDir(f.Bars[i]) != dir {
		return false
	}
	scores := momentumScoreSeries(f)
	base := wma3(scores, i)
	if math.IsNaN(base) || math.IsNaN(scores[i]) {
		return false
	}
	return scores[i] > base
}
