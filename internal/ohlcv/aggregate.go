package ohlcv

import (
	"fmt"
	"time"

	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// Aggregate folds a daily frame into the requested derived timeframe.
// Bars are grouped by the timeframe's anchored period index (Monday-of-week
// for 1w); each group folds as open=first, high=max, low=min, close=last,
// volume=sum, and the derived bar is stamped with the first daily timestamp
// of its period. The last bar may cover a partial (still open) period.
//
// Aggregation is deterministic and commutes with prefix truncation:
// aggregating a prefix of a daily frame yields a prefix of the aggregated
// frame, which keeps repeated scans reproducible.
func Aggregate(daily *Frame, tf timeframe.Timeframe) (*Frame, error) {
	if !tf.Derived() {
		return nil, fmt.Errorf("ohlcv: aggregate to non-derived timeframe %s", tf)
	}
	if daily.Len() < 10 {
		return nil, fmt.Errorf("%w: %d daily bars for %s", ErrInsufficientData, daily.Len(), tf)
	}

	key := func(ts time.Time) int { return tf.PeriodIndex(ts) }
	if tf == timeframe.W1 {
		key = weekKey
	}

	out := &Frame{Symbol: daily.Symbol, Venue: daily.Venue, TF: tf}
	var cur Bar
	curKey, open := 0, false
	for _, b := range daily.Bars {
		k := key(b.Ts)
		if !open || k != curKey {
			if open {
				out.Bars = append(out.Bars, cur)
			}
			cur, curKey, open = b, k, true
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.QuoteVolume += b.QuoteVolume
	}
	if open {
		out.Bars = append(out.Bars, cur)
	}
	return out, nil
}

// Weekly folds a daily frame into Monday-anchored weeks.
func Weekly(daily *Frame) (*Frame, error) {
	return Aggregate(daily, timeframe.W1)
}

// weekKey maps a timestamp to its Monday-anchored week number.
func weekKey(ts time.Time) int {
	ts = ts.UTC()
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) - int(time.Monday) + 7) % 7
	monday := day.AddDate(0, 0, -offset)
	return int(monday.Unix() / 86400)
}
