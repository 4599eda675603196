package detect

import (
	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Composed strategies call primitive detectors through the registry and
// combine their verdicts on the same frame without refetching.

func init() {
	Register("hbs_breakout", detectHBSBreakout)
	Register("vs_wakeup", detectVSWakeup)
}

func runNamed(name string, f *ohlcv.Frame, checkBar int) (bool, Payload) {
	d, ok := Lookup(name)
	if !ok {
		return false, nil
	}
	return d(f, checkBar)
}

// hbs_breakout: a confluence bar that is simultaneously a consolidation or
// channel breakout. The heaviest signal in the battery.
func detectHBSBreakout(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	confOK, conf := runNamed("confluence", f, checkBar)
	if !confOK {
		return false, nil
	}
	boxOK, box := runNamed("consolidation_breakout", f, checkBar)
	chanOK, chn := runNamed("channel_breakout", f, checkBar)
	if !boxOK && !chanOK {
		return false, nil
	}

	var breakoutType string
	var dir int
	switch {
	case boxOK && chanOK:
		breakoutType = "both"
		dir, _ = box["direction"].(int)
	case boxOK:
		breakoutType = "consolidation_breakout"
		dir, _ = box["direction"].(int)
	default:
		breakoutType = "channel_breakout"
		dir, _ = chn["direction"].(int)
	}

	payload := Payload{
		"direction":     dirLabel(dir),
		"breakout_type": breakoutType,
		"at_macro_high": conf["at_macro_high"],
		"at_macro_low":  conf["at_macro_low"],
	}
	if boxOK {
		payload["strength"] = box["strength"]
	}
	smaOK, _ := runNamed("sma50_breakout", f, checkBar)
	surgeOK, _ := runNamed("volume_surge", f, checkBar)
	payload["has_sma50_breakout"] = smaOK
	payload["has_engulfing_reversal"] = conf["is_engulfing_reversal"] == true
	payload["has_volume_breakout"] = surgeOK
	return true, payload
}

// vs_wakeup: the bar sits inside an active consolidation while a bullish
// wakeup confluence (volume plus spread, momentum not required) prints.
func detectVSWakeup(f *ohlcv.Frame, checkBar int) (bool, Payload) {
	insideOK, box := runNamed("consolidation", f, checkBar)
	if !insideOK {
		return false, nil
	}
	i, ok := f.Abs(checkBar)
	if !ok || !wakeupAt(f, i) {
		return false, nil
	}
	return true, Payload{
		"direction":  DirUp,
		"box_high":   box["box_high"],
		"box_low":    box["box_low"],
		"height_pct": box["height_pct"],
	}
}
