package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Pin detectors: a rejection candle at a rolling extreme (the anchor), then
// a confirming close through it within a few bars. pin_down is the bearish
// pattern, pin_up its mirror. Both are edge-triggered so an established
// pattern does not re-fire on every later bar.

const (
	pinMinBars   = 55
	pinMaxAge    = 4
	pinExtremeN  = 50
	pinProximity = 0.01
)

func init() {
	Register("pin_down", detectPinDown)
	Register("pin_up", detectPinUp)
}

// bearishTop: upper-wick-dominant candle printing within proximity of the
// 50-bar high, tight range (under ATR3), with the wick rejecting a
// meaningful distance off the rolling max.
func bearishTop(f *ohlcv.Frame, i int) bool {
	if i < pinExtremeN {
		return false
	}
	b := f.Bars[i]
	hi := ohlcv.Highest(f.Highs(), i, pinExtremeN)
	atr3 := ohlcv.ATR(f, i, 3)
	if math.IsNaN(hi) || math.IsNaN(atr3) {
		return false
	}
	return b.UpperWick() > b.Body() &&
		b.UpperWick() > b.LowerWick() &&
		b.High >= hi*(1-pinProximity) &&
		b.Range() < atr3 &&
		hi-b.Close >= 0.5*atr3
}

// bullishBottom: lower-wick-dominant candle within proximity of the 50-bar
// low with range under ATR7.
func bullishBottom(f *ohlcv.Frame, i int) bool {
	if i < pinExtremeN {
		return false
	}
	b := f.Bars[i]
	lo := ohlcv.Lowest(f.Lows(), i, pinExtremeN)
	atr7 := ohlcv.ATR(f, i, 7)
	if math.IsNaN(lo) || math.IsNaN(atr7) {
		return false
	}
	return b.LowerWick() > b.Body() &&
		b.LowerWick() > b.UpperWick() &&
		b.Low <= lo*(1+pinProximity) &&
		b.Range() < atr7 &&
		b.Close-lo >= 0.5*atr7
}

// pinDownAt reports whether the pin-down condition holds at bar i, without
// the edge check. Returns the anchor age when it does.
func pinDownAt(f *ohlcv.Frame, i int) (bool, int) {
	if isOutside(f, i) {
		return false, 0
	}
	for age := 1; age <= pinMaxAge; age++ {
		j := i - age
		if j < 0 {
			break
		}
		if bearishTop(f, j) && f.Bars[i].Close < f.Bars[j].Low {
			return true, age
		}
	}
	return false, 0
}

func pinUpAt(f *ohlcv.Frame, i int) (bool, int) {
	if isOutside(f, i) {
		return false, 0
	}
	spreads := f.Spreads()
	if w := wma3(spreads, i); math.IsNaN(w) || spreads[i] < w {
		return false, 0
	}
	for age := 1; age <= pinMaxAge; age++ {
		j := i - age
		if j < 0 {
			break
		}
		if bullishBottom(f, j) && f.Bars[i].Close > f.Bars[j].High {
			return true, age
		}
	}
	return false, 0
}

func detectPinDown(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < pinMinBars || i < 1 {
		return false, nil
	}
	now, age := pinDownAt(f, i)
	if !now {
		return false, nil
	}
	if prev, _ := pinDownAt(f, i-1); prev {
		return false, nil // already fired
	}
	return true, Payload{
		"direction":  DirDown,
		"anchor_age": age,
		"close":      f.Bars[i].Close,
	}
}

func detectPinUp(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < pinMinBars || i < 1 {
		return false, nil
	}
	now, age := pinUpAt(f, i)
	if !now {
		return false, nil
	}
	if prev, _ := pinUpAt(f, i-1); prev {
		return false, nil
	}
	return true, Payload{
		"direction":  DirUp,
		"anchor_age": age,
		"close":      f.Bars[i].Close,
	}
}
