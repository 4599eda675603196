package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Volume surge: the previous bar's volume clears rolling mean + k·std over a
// long lookback. Fires on the bar after the surge so the checked bar shows
// how the market reacted to it.

const (
	surgeLookback = 65
	surgeK        = 4.0
	extremeWindow = 50
)

func init() {
	Register("volume_surge", detectVolumeSurge)
}

func detectVolumeSurge(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || i < 1 || i-1 < surgeLookback {
		return false, nil
	}
	vols := f.Volumes()
	// Band is computed up to the bar before the surge bar so the surge does
	// not inflate its own baseline.
	mean := ohlcv.Mean(vols, i-2, surgeLookback)
	std := ohlcv.Std(vols, i-2, surgeLookback)
	if math.IsNaN(mean) || math.IsNaN(std) {
		return false, nil
	}
	surge := vols[i-1]
	if surge <= mean+surgeK*std {
		return false, nil
	}

	cur, prev := f.Bars[i], f.Bars[i-1]
	score := surgeScore(cur, prev)
	return true, Payload{
		"direction":     surgeDirection(prev),
		"score":         score,
		"surge_volume":  surge,
		"volume_sigma":  (surge - mean) / std,
		"price_extreme": priceExtreme(f, i-1),
	}
}

// surgeScore combines the reaction bar's range and close location against
// the surge bar's. A strong reaction holds most of the surge bar's range and
// closes well-placed within its own.
func surgeScore(cur, prev ohlcv.Bar) float64 {
	rangeRatio := 0.0
	if prev.Range() > 0 {
		rangeRatio = cur.Range() / prev.Range()
	}
	return rangeRatio * cur.CloseLocation() * prev.CloseLocation()
}

func surgeDirection(surge ohlcv.Bar) int {
	if surge.Up() {
		return DirUp
	}
	if surge.Down() {
		return DirDown
	}
	return DirNone
}

// priceExtreme labels where the surge bar printed relative to the rolling
// window: a fresh high, a fresh low, or neither, with the candle color.
func priceExtreme(f *ohlcv.Frame, i int) string {
	highs, lows := f.Highs(), f.Lows()
	color := "red"
	if f.Bars[i].Up() {
		color = "green"
	}
	if hi := ohlcv.Highest(highs, i, extremeWindow); !math.IsNaN(hi) && f.Bars[i].High >= hi {
		return "new_high_" + color
	}
	if lo := ohlcv.Lowest(lows, i, extremeWindow); !math.IsNaN(lo) && f.Bars[i].Low <= lo {
		return "new_low_" + color
	}
	return "mid_range_" + color
}
