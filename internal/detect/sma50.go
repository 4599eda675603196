package detect

import (
	"math"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// SMA50 breakout: the bar straddles the 50-bar simple moving average and
// closes above it, after a quiet approach in which no recent close already
// escaped the line.

const (
	smaLen         = 50
	smaCleanWindow = 7
	smaATRLen      = 7
	smaMult        = 0.2
	smaStrongLoc   = 0.35
)

func init() {
	Register("sma50_breakout", detectSMA50Breakout)
}

func detectSMA50Breakout(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	i, ok := f.Abs(checkBar)
	if !ok || i < smaLen+smaCleanWindow {
		return false, nil
	}
	closes := f.Closes()
	sma := ohlcv.SMA(closes, i, smaLen)
	atr := ohlcv.ATR(f, i, smaATRLen)
	if math.IsNaN(sma) || math.IsNaN(atr) {
		return false, nil
	}

	b := f.Bars[i]
	regular := b.Close > sma && b.Low < sma
	pre := !regular && b.Close > sma-smaMult*atr && b.Low < sma

	if !regular && !pre {
		return false, nil
	}
	// Clean filter: no close in the preceding window already above the line
	// plus slack. A breakout that was preceded by closes above is a re-test,
	// not a break.
	for j := i - smaCleanWindow; j < i; j++ {
		prior := ohlcv.SMA(closes, j, smaLen)
		if math.IsNaN(prior) {
			return false, nil
		}
		if closes[j] > prior+smaMult*atr {
			return false, nil
		}
	}

	payload := Payload{
		"direction": DirUp,
		"sma":       sma,
		"close":     b.Close,
	}
	if regular {
		payload["breakout_type"] = "regular"
		strength := "Regular"
		if loc := smaLocation(b, sma); !math.IsNaN(loc) && loc < smaStrongLoc {
			strength = "Strong"
		}
		payload["strength"] = strength
	} else {
		payload["breakout_type"] = "pre_breakout"
	}
	return true, payload
}

// smaLocation places the moving average within the bar's range: near 0 the
// line sits by the low and the close cleared it decisively.
func smaLocation(b ohlcv.Bar, sma float64) float64 {
	if b.Range() <= 0 {
		return math.NaN()
	}
	return (sma - b.Low) / b.Range()
}
