package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Bullish engulfing reversal: an expanding bar that sweeps the prior lows,
// takes out the prior highs, and closes above them from a depressed price
// location with real buying pressure in the wicks.

const engulfingMinBars = 25

func init() {
	Register("bullish_engulfing", detectBullishEngulfing)
}

func detectBullishEngulfing(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || f.Len() < engulfingMinBars || i < 21 {
		return false, nil
	}
	b, p1, p2 := f.Bars[i], f.Bars[i-1], f.Bars[i-2]

	expanded := b.Range() > p1.Range() && b.Range() > p2.Range()
	sweptLows := nearLowOf(b.Low, p1) || nearLowOf(b.Low, p2)
	tookHighs := b.High > p1.High && b.High > p2.Close
	closedThrough := b.Close > math.Max(p1.High, p2.High)
	if !(expanded && sweptLows && tookHighs && closedThrough && b.CloseLocation() >= 0.5) {
		return false, nil
	}

	// The bar's spread must rank high over the last 21 bars while price
	// itself ranks low, a wide reversal bar out of a depressed base.
	spreads := f.Spreads()
	lows := f.Lows()
	spreadRank := ohlcv.PercentileRank(spreads, i, 21, spreads[i])
	lowRank := ohlcv.PercentileRank(lows, i, 21, b.Low)
	hl2s := make([]float64, f.Len())
	for j, bar := range f.Bars {
		hl2s[j] = bar.HL2()
	}
	hl2Rank := ohlcv.PercentileRank(hl2s, i, 21, b.HL2())
	if math.IsNaN(spreadRank) || spreadRank < 80 || lowRank > 25 || hl2Rank > 35 {
		return false, nil
	}

	// Buying power: the last three lower wicks together exceed ATR3.
	atr3 := ohlcv.ATR(f, i, 3)
	wicks := b.LowerWick() + p1.LowerWick() + p2.LowerWick()
	if math.IsNaN(atr3) || wicks <= atr3 {
		return false, nil
	}

	return true, Payload{
		"direction":   DirUp,
		"close":       b.Close,
		"spread_rank": spreadRank,
	}
}

// nearLowOf reports whether price sits within the bottom quarter of the
// bar's range.
func nearLowOf(price float64, bar ohlcv.Bar) bool {
	if bar.Range() <= 0 {
		return price <= bar.Low
	}
	return price <= bar.Low+0.25*bar.Range()
}
