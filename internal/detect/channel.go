package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Linear channel and wedge fits. Both use Theil-Sen regression, on log price
// by default, with band offsets chosen so every bar of the fit window sits
// inside the envelope. Breakouts compare the checked close against the band
// extrapolated one step past the window.

const (
	channelWindow = 40
	channelMult   = 1.0
)

func init() {
	Register("channel_breakout", detectChannelBreakout)
	Register("wedge_breakout", detectWedgeBreakout)
}

type channelFit struct {
	slope, intercept float64
	above, below     float64 // residual offsets containing all highs/lows
	useLog           bool
	mult             float64
}

func channelValue(price float64, useLog bool) float64 {
	if useLog {
		return math.Log(price)
	}
	return price
}

// fitChannel regresses closes over bars [from, to] with x = 0 at from.
func fitChannel(f *ohlcv.Frame, from, to int, useLog bool, mult float64) (channelFit, bool) {
	if from < 0 || to-from < 2 || to >= f.Len() {
		return channelFit{}, false
	}
	ys := make([]float64, 0, to-from+1)
	for j := from; j <= to; j++ {
		c := f.Bars[j].Close
		if useLog && c <= 0 {
			return channelFit{}, false
		}
		ys = append(ys, channelValue(c, useLog))
	}
	slope, intercept := ohlcv.TheilSen(ys)
	if math.IsNaN(slope) {
		return channelFit{}, false
	}

	fit := channelFit{slope: slope, intercept: intercept, useLog: useLog, mult: mult}
	for j := from; j <= to; j++ {
		center := slope*float64(j-from) + intercept
		hi := channelValue(f.Bars[j].High, useLog)
		lo := channelValue(f.Bars[j].Low, useLog)
		fit.above = math.Max(fit.above, hi-center)
		fit.below = math.Max(fit.below, center-lo)
	}
	return fit, true
}

// bandAt returns the channel bounds at offset x from the fit origin, in fit
// space (log space when useLog).
func (c channelFit) bandAt(x int) (upper, lower float64) {
	center := c.slope*float64(x) + c.intercept
	return center + c.above*c.mult, center - c.below*c.mult
}

// heightPctAt reports the band height as a percentage of the center price at
// offset x, converted back to price space.
func (c channelFit) heightPctAt(x int) float64 {
	upper, lower := c.bandAt(x)
	if c.useLog {
		upper, lower = math.Exp(upper), math.Exp(lower)
	}
	return heightPct(upper, lower)
}

// detectChannelBreakout fits the channel over the window preceding the
// checked bar and fires when the close escapes the extrapolated band. The
// band height must sit within the tightness ladder so a sloppy fit cannot
// report a breakout.
func detectChannelBreakout(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || i < channelWindow {
		return false, nil
	}
	from, to := i-channelWindow, i-1
	fit, ok := fitChannel(f, from, to, true, channelMult)
	if !ok {
		return false, nil
	}
	height := fit.heightPctAt(to - from)
	if math.IsNaN(ladderLevel(height)) {
		return false, nil
	}

	upper, lower := fit.bandAt(i - from)
	close := channelValue(f.Bars[i].Close, true)
	var dir int
	switch {
	case close > upper:
		dir = DirUp
	case close < lower:
		dir = DirDown
	default:
		return false, nil
	}
	return true, Payload{
		"direction":  dir,
		"slope":      fit.slope,
		"height_pct": height,
		"age":        channelWindow,
	}
}

// detectWedgeBreakout fits separate regressions on highs and lows. The raw
// fit lines form the envelope; every window bar must sit inside it within a
// small tolerance, and the close must cross a projected line at the checked
// bar.
func detectWedgeBreakout(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || i < channelWindow {
		return false, nil
	}
	from, to := i-channelWindow, i-1

	highs := make([]float64, 0, channelWindow)
	lows := make([]float64, 0, channelWindow)
	rangeSum := 0.0
	for j := from; j <= to; j++ {
		if f.Bars[j].Low <= 0 {
			return false, nil
		}
		highs = append(highs, math.Log(f.Bars[j].High))
		lows = append(lows, math.Log(f.Bars[j].Low))
		rangeSum += math.Log(f.Bars[j].High) - math.Log(f.Bars[j].Low)
	}
	upSlope, upIntercept := ohlcv.TheilSen(highs)
	loSlope, loIntercept := ohlcv.TheilSen(lows)
	if math.IsNaN(upSlope) || math.IsNaN(loSlope) {
		return false, nil
	}

	tol := 0.25 * rangeSum / float64(channelWindow)
	for j := from; j <= to; j++ {
		x := float64(j - from)
		if highs[j-from] > upSlope*x+upIntercept+tol {
			return false, nil
		}
		if lows[j-from] < loSlope*x+loIntercept-tol {
			return false, nil
		}
	}

	x := float64(i - from)
	close := math.Log(f.Bars[i].Close)
	var dir int
	switch {
	case close > upSlope*x+upIntercept:
		dir = DirUp
	case close < loSlope*x+loIntercept:
		dir = DirDown
	default:
		return false, nil
	}
	return true, Payload{
		"direction":   dir,
		"upper_slope": upSlope,
		"lower_slope": loSlope,
		"age":         channelWindow,
	}
}
