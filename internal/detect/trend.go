package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Trend breakout: a smoothed Heikin-Ashi band on the highs acts as the
// trigger line. The detector fires on the bar where the close first crosses
// above the band while the supporting trend conditions all agree.

const (
	trendMinBars  = 60
	haSmoothLen   = 13
	trendFastMA   = 9
	trendSlowMA   = 21
	pivotGrace    = 2
	pivotSpan     = 2
	upWeGoMult    = 0.3
	crossoverMult = 0.1
)

func init() {
	Register("trend_breakout", detectTrendBreakout)
}

// heikinAshi builds the synthetic candle series: haClose is the OHLC4
// average, haOpen the recursive midpoint of the prior synthetic candle.
func heikinAshi(f *ohlcv.Frame) (haOpen, haClose []float64) {
	n := f.Len()
	haOpen = make([]float64, n)
	haClose = make([]float64, n)
	for i, b := range f.Bars {
		haClose[i] = (b.Open + b.High + b.Low + b.Close) / 4
		if i == 0 {
			haOpen[i] = (b.Open + b.Close) / 2
		} else {
			haOpen[i] = (haOpen[i-1] + haClose[i-1]) / 2
		}
	}
	return haOpen, haClose
}

// smoothedHighBand mixes EMA and WMA on the highs; the low band is a plain
// EMA on the lows.
func smoothedHighBand(f *ohlcv.Frame, i int) float64 {
	highs := f.Highs()
	ema := ohlcv.EMASeries(highs, haSmoothLen)
	wma := ohlcv.WMA(highs, i, haSmoothLen)
	if math.IsNaN(wma) {
		return math.NaN()
	}
	return (ema[i] + wma) / 2
}

// lastPivotHigh finds the most recent bar before i whose high exceeds its
// neighbors on both sides, and how many bars ago it printed.
func lastPivotHigh(f *ohlcv.Frame, i int) (float64, int, bool) {
	for j := i - pivotSpan - 1; j >= pivotSpan; j-- {
		pivot := true
		for k := 1; k <= pivotSpan; k++ {
			if f.Bars[j].High <= f.Bars[j-k].High || f.Bars[j].High <= f.Bars[j+k].High {
				pivot = false
				break
			}
		}
		if pivot {
			return f.Bars[j].High, i - j, true
		}
	}
	return 0, 0, false
}

// upWeGoActive: the close crossed above the last pivot high plus an ATR
// margin within the last pivotGrace bars.
func upWeGoActive(f *ohlcv.Frame, i int) bool {
	pivot, _, ok := lastPivotHigh(f, i)
	if !ok {
		return false
	}
	for back := 0; back <= pivotGrace; back++ {
		j := i - back
		if j < 1 {
			break
		}
		atr := ohlcv.ATR(f, j, smaATRLen)
		if math.IsNaN(atr) {
			continue
		}
		trigger := pivot + upWeGoMult*atr
		if f.Bars[j].Close > trigger && f.Bars[j-1].Close <= trigger {
			return true
		}
	}
	return false
}

func detectTrendBreakout(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < trendMinBars || i < trendSlowMA+1 {
		return false, nil
	}
	band := smoothedHighBand(f, i)
	prevBand := smoothedHighBand(f, i-1)
	atr := ohlcv.ATR(f, i, smaATRLen)
	prevATR := ohlcv.ATR(f, i-1, smaATRLen)
	if math.IsNaN(band) || math.IsNaN(prevBand) || math.IsNaN(atr) || math.IsNaN(prevATR) {
		return false, nil
	}

	// Edge: close clears the band now but did not on the previous bar.
	crossed := f.Bars[i].Close > band+crossoverMult*atr &&
		f.Bars[i-1].Close <= prevBand+crossoverMult*prevATR
	if !crossed {
		return false, nil
	}

	_, haClose := heikinAshi(f)
	ma1 := ohlcv.EMASeries(haClose, trendFastMA)
	ma2 := ohlcv.EMASeries(haClose, trendSlowMA)

	b := f.Bars[i]
	supports := atr > prevATR &&
		upWeGoActive(f, i) &&
		ma1[i] > ma2[i] &&
		haClose[i] > haClose[i-1] &&
		isNewHighOrOutside(f, i) && b.CloseLocation() >= 0.5 && !bearishTop(f, i)
	if !supports {
		return false, nil
	}
	return true, Payload{
		"direction": DirUp,
		"close":     b.Close,
		"band":      band,
	}
}
