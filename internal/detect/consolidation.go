package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Consolidation box: a sliding 7-bar window forms a box when enough bars sit
// inside it, its relative height fits the tightness ladder, and volatility is
// contracting. The simulation walks the frame left to right so the state at
// any bar is a pure function of the bars before it.

const (
	boxWindow    = 7
	boxMinInside = 4
	boxMinBars   = boxWindow + 1
)

// Ladder of admissible box heights in percent, loosest first. A box
// auto-tightens when a later window fits a stricter level.
var tightnessLadder = []float64{40, 35, 25, 15}

func init() {
	Register("consolidation", detectConsolidation)
	Register("consolidation_breakout", detectConsolidationBreakout)
}

type boxState struct {
	active    bool
	breakout  bool
	dir       int
	strong    bool
	high, low float64
	heightPct float64
	level     float64
	start     int // index where the box window began
}

func heightPct(high, low float64) float64 {
	if high+low == 0 {
		return math.NaN()
	}
	return 200 * (high - low) / (high + low)
}

// ladderLevel returns the tightest ladder entry that admits h, or NaN.
func ladderLevel(h float64) float64 {
	level := math.NaN()
	for _, l := range tightnessLadder {
		if h <= l {
			level = l
		}
	}
	return level
}

// atrContracting: ATR(14) under 0.9 of its own 7-bar average. Passes when
// the frame is too short to compute it, so young frames can still form
// boxes.
func atrContracting(f *ohlcv.Frame, i int) bool {
	atr := ohlcv.ATRSeries(f, 14)
	if math.IsNaN(atr[i]) {
		return true
	}
	base := ohlcv.SMA(atr, i, boxWindow)
	if math.IsNaN(base) {
		return true
	}
	return atr[i] < 0.9*base
}

// boxAt replays box formation over bars [0, i] and returns the state at i.
func boxAt(f *ohlcv.Frame, i int) boxState {
	var box boxState
	for j := boxWindow - 1; j <= i; j++ {
		if !box.active {
			box = tryFormBox(f, j)
			continue
		}
		b := f.Bars[j]
		switch {
		case b.Close > box.high:
			box.breakout, box.dir = true, DirUp
		case b.Close < box.low:
			box.breakout, box.dir = true, DirDown
		}
		if box.breakout {
			if j == i {
				box.strong = internalChannelBroken(f, box, j)
				return box
			}
			box = boxState{} // box consumed before the checked bar
			continue
		}
		if insideCount(f, j, box) < boxMinInside {
			box = tryFormBox(f, j) // dissolved; the current window may re-form
			continue
		}
		tightenBox(f, j, &box)
	}
	return box
}

func tryFormBox(f *ohlcv.Frame, j int) boxState {
	start := j - boxWindow + 1
	if start < 0 {
		return boxState{}
	}
	hi, lo := windowBounds(f, start, j)
	h := heightPct(hi, lo)
	level := ladderLevel(h)
	if math.IsNaN(level) || !atrContracting(f, j) {
		return boxState{}
	}
	return boxState{active: true, high: hi, low: lo, heightPct: h, level: level, start: start}
}

func windowBounds(f *ohlcv.Frame, from, to int) (hi, lo float64) {
	hi, lo = f.Bars[from].High, f.Bars[from].Low
	for j := from + 1; j <= to; j++ {
		hi = math.Max(hi, f.Bars[j].High)
		lo = math.Min(lo, f.Bars[j].Low)
	}
	return hi, lo
}

func insideCount(f *ohlcv.Frame, j int, box boxState) int {
	count := 0
	for k := j - boxWindow + 1; k <= j; k++ {
		if k < 0 {
			continue
		}
		if f.Bars[k].High <= box.high && f.Bars[k].Low >= box.low {
			count++
		}
	}
	return count
}

// tightenBox shrinks the box to the latest window when that window fits a
// stricter ladder level inside the current bounds.
func tightenBox(f *ohlcv.Frame, j int, box *boxState) {
	hi, lo := windowBounds(f, j-boxWindow+1, j)
	if hi > box.high || lo < box.low {
		return
	}
	h := heightPct(hi, lo)
	level := ladderLevel(h)
	if math.IsNaN(level) || level >= box.level {
		return
	}
	box.high, box.low, box.heightPct, box.level = hi, lo, h, level
}

// internalChannelBroken fits a channel over the box lifetime and reports
// whether the breakout close also escapes the channel band, the "Strong"
// classification.
func internalChannelBroken(f *ohlcv.Frame, box boxState, i int) bool {
	if i-box.start < 2 {
		return false
	}
	fit, ok := fitChannel(f, box.start, i-1, true, 1.0)
	if !ok {
		return false
	}
	upper, lower := fit.bandAt(i - box.start)
	close := channelValue(f.Bars[i].Close, true)
	return close > upper || close < lower
}

func detectConsolidation(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < boxMinBars || i < boxWindow {
		return false, nil
	}
	box := boxAt(f, i)
	if !box.active || box.breakout {
		return false, nil
	}
	b := f.Bars[i]
	if b.High > box.high || b.Low < box.low {
		return false, nil
	}
	return true, Payload{
		"box_high":   box.high,
		"box_low":    box.low,
		"height_pct": box.heightPct,
		"level":      box.level,
		"age":        i - box.start,
	}
}

func detectConsolidationBreakout(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < boxMinBars || i < boxWindow {
		return false, nil
	}
	box := boxAt(f, i)
	if !box.active || !box.breakout {
		return false, nil
	}
	strength := "Regular"
	if box.strong {
		strength = "Strong"
	}
	return true, Payload{
		"direction":  box.dir,
		"box_high":   box.high,
		"box_low":    box.low,
		"height_pct": box.heightPct,
		"level":      box.level,
		"age":        i - box.start,
		"strength":   strength,
	}
}
