package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// VSA bar detectors. Each strategy is a fixed bundle of conditions from
// conditions.go evaluated at the checked bar; all selected conditions must
// hold for the detector to fire.

const vsaMinBars = 50

func init() {
	Register("breakout_bar", detectBreakoutBar)
	Register("stop_bar", detectStopBar)
	Register("reversal_bar", detectReversalBar)
	Register("start_bar", detectStartBar)
	Register("loaded_bar", detectLoadedBar)
	Register("test_bar", detectTestBar)
}

func vsaIndex(f *ohlcv.Frame, checkBar int) (int, bool) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < vsaMinBars || i == 0 {
		return 0, false
	}
	return i, true
}

// breakout_bar: wide or abnormal spread on high or abnormal volume, closing
// in the highs of an up bar that takes out the prior high, with a breakout
// close and most of the lookback's highs already below the close.
func detectBreakoutBar(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := vsaIndex(f, checkBar)
	if !ok {
		return false, nil
	}
	b := f.Bars[i]
	sb := spreadBand(f, i, defaultBand)
	vb := volumeBand(f, i, defaultBand)
	hbc := highBreakoutCount(f, i, 40)

	detected := (sb == bandHigh || sb == bandAbnormal) &&
		(vb == bandHigh || vb == bandAbnormal) &&
		closesInHighs(b) &&
		barUp(f, i) &&
		isNewHighOrOutside(f, i) &&
		breakoutClose(f, i, 40, 0.25) &&
		!math.IsNaN(hbc) && hbc >= 0.85
	if !detected {
		return false, nil
	}
	return true, Payload{
		"direction":           DirUp,
		"close":               b.Close,
		"volume_abnormal":     vb == bandAbnormal,
		"spread_abnormal":     sb == bandAbnormal,
		"high_breakout_count": hbc,
	}
}

// stop_bar: heavy volume into a wide down bar pressing a macro low but
// closing off the lows, the classic absorption signature.
func detectStopBar(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := vsaIndex(f, checkBar)
	if !ok {
		return false, nil
	}
	b := f.Bars[i]
	sb := spreadBand(f, i, defaultBand)
	vb := volumeBand(f, i, defaultBand)

	detected := vb == bandAbnormal &&
		(sb == bandHigh || sb == bandAbnormal) &&
		barDown(f, i) &&
		isNewLowOrOutside(f, i) &&
		!closesInLows(b) &&
		macroLowV1(f, i, defaultMacro)
	if !detected {
		return false, nil
	}
	return true, Payload{
		"direction":      DirUp,
		"close":          b.Close,
		"close_location": b.CloseLocation(),
	}
}

// reversal_bar: a wide, high-volume bar that makes a new low at a macro low
// but closes up and in its highs.
func detectReversalBar(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := vsaIndex(f, checkBar)
	if !ok {
		return false, nil
	}
	b := f.Bars[i]
	sb := spreadBand(f, i, defaultBand)
	vb := volumeBand(f, i, defaultBand)

	detected := (sb == bandHigh || sb == bandAbnormal) &&
		(vb == bandHigh || vb == bandAbnormal) &&
		isNewLowOrOutside(f, i) &&
		barUp(f, i) &&
		closesInHighs(b) &&
		macroLowV1(f, i, defaultMacro)
	if !detected {
		return false, nil
	}
	return true, Payload{
		"direction":      DirUp,
		"close":          b.Close,
		"close_location": b.CloseLocation(),
	}
}

// start_bar: high volume with a higher high and a non-narrow range, closing
// in the highs and far from the previous close, but without excess in either
// range or volume, near a macro low.
func detectStartBar(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := vsaIndex(f, checkBar)
	if !ok {
		return false, nil
	}
	b := f.Bars[i]
	sb := spreadBand(f, i, defaultBand)
	vb := volumeBand(f, i, defaultBand)
	mb := momentumBand(f, i, defaultBand)

	detected := (vb == bandHigh || vb == bandAbnormal) &&
		isNewHighOrOutside(f, i) &&
		sb != bandLow &&
		closesInHighs(b) &&
		(mb == bandHigh || mb == bandAbnormal) &&
		sb != bandAbnormal &&
		vb != bandAbnormal &&
		macroLowV1(f, i, defaultMacro)
	if !detected {
		return false, nil
	}
	return true, Payload{
		"direction": DirUp,
		"close":     b.Close,
	}
}

// loaded_bar: abnormal volume into a bar that is not wide, closing off the
// lows near a macro low. Effort without result: the volume got absorbed.
func detectLoadedBar(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := vsaIndex(f, checkBar)
	if !ok {
		return false, nil
	}
	b := f.Bars[i]
	sb := spreadBand(f, i, defaultBand)
	vb := volumeBand(f, i, defaultBand)

	detected := vb == bandAbnormal &&
		sb != bandHigh && sb != bandAbnormal &&
		closesOffLows(b) &&
		macroLowV1(f, i, defaultMacro)
	if !detected {
		return false, nil
	}
	return true, Payload{
		"direction":      DirUp,
		"close":          b.Close,
		"close_location": b.CloseLocation(),
	}
}

// test_bar: an inside down bar closing in the upper 65% of its range on
// volume under 40% of the previous bar and the lowest of the last 3 bars.
func detectTestBar(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := vsaIndex(f, checkBar)
	if !ok || i < 2 {
		return false, nil
	}
	b := f.Bars[i]
	vols := f.Volumes()
	lowestVol3 := ohlcv.Lowest(vols, i, 3)

	detected := isInside(f, i) &&
		barDown(f, i) &&
		b.CloseLocation() >= 0.35 &&
		b.Volume < 0.4*f.Bars[i-1].Volume &&
		b.Volume <= lowestVol3
	if !detected {
		return false, nil
	}
	return true, Payload{
		"direction":    DirUp,
		"close":        b.Close,
		"volume_ratio": b.Volume / f.Bars[i-1].Volume,
	}
}
