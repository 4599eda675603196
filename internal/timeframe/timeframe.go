// Package timeframe defines the scanner's bar intervals and the rules that
// govern them: which intervals are native to a venue and which are derived by
// aggregating daily bars, the fixed reference dates that anchor derived
// periods, calendar activation for multi-timeframe runs, and per-interval
// liquidity floors.
package timeframe

import (
	"fmt"
	"time"
)

// Timeframe is a bar interval handled by the scanner.
type Timeframe string

const (
	H4 Timeframe = "4h"
	D1 Timeframe = "1d"
	D2 Timeframe = "2d"
	D3 Timeframe = "3d"
	D4 Timeframe = "4d"
	W1 Timeframe = "1w"
)

// All lists every supported timeframe in scan-priority order.
var All = []Timeframe{H4, D1, D2, D3, D4, W1}

// Reference dates anchoring derived-period boundaries. Period index for a
// daily bar is floor((date - ref) / n days); bars sharing an index fold into
// one derived bar. Weeks are Monday-anchored and need no reference.
var (
	ref2d = time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	ref3d = time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	ref4d = time.Date(2025, 3, 22, 0, 0, 0, 0, time.UTC)
)

// Parse converts a config string into a Timeframe. "4w" is accepted as a
// legacy alias for "4d".
func Parse(s string) (Timeframe, error) {
	switch s {
	case "4h":
		return H4, nil
	case "1d":
		return D1, nil
	case "2d":
		return D2, nil
	case "3d":
		return D3, nil
	case "4d", "4w":
		return D4, nil
	case "1w":
		return W1, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// String returns the config-file spelling of the timeframe.
func (tf Timeframe) String() string { return string(tf) }

// Derived reports whether the timeframe is built by aggregating 1d bars
// instead of being requested natively from a venue.
func (tf Timeframe) Derived() bool {
	switch tf {
	case D2, D3, D4, W1:
		return true
	}
	return false
}

// Source returns the interval actually fetched from a venue for tf.
func (tf Timeframe) Source() Timeframe {
	if tf.Derived() {
		return D1
	}
	return tf
}

// Multiplier is the number of source bars folded into one bar of tf.
func (tf Timeframe) Multiplier() int {
	switch tf {
	case D2:
		return 2
	case D3:
		return 3
	case D4:
		return 4
	case W1:
		return 7
	}
	return 1
}

// Reference returns the anchor date for fixed-period derived timeframes.
// The second return is false for weekly (Monday-anchored) and native frames.
func (tf Timeframe) Reference() (time.Time, bool) {
	switch tf {
	case D2:
		return ref2d, true
	case D3:
		return ref3d, true
	case D4:
		return ref4d, true
	}
	return time.Time{}, false
}

// PeriodIndex maps a daily bar's opening date onto the derived period it
// belongs to. Dates before the reference produce negative indices; floor
// division keeps boundaries aligned on both sides of the anchor.
func (tf Timeframe) PeriodIndex(ts time.Time) int {
	ref, ok := tf.Reference()
	if !ok {
		return 0
	}
	days := int(ts.Sub(ref).Hours() / 24)
	n := tf.Multiplier()
	if ts.Before(ref) && days%n != 0 {
		return days/n - 1
	}
	return days / n
}

// ActiveOn reports whether tf closes a period on the given UTC date and so
// should be scanned on that day. 4h and 1d run every day; 1w runs on Mondays;
// 2d/3d/4d run when the day lands on a period boundary.
func (tf Timeframe) ActiveOn(today time.Time) bool {
	today = today.UTC().Truncate(24 * time.Hour)
	switch tf {
	case H4, D1:
		return true
	case W1:
		return today.Weekday() == time.Monday
	case D2, D3, D4:
		ref, _ := tf.Reference()
		days := int(today.Sub(ref).Hours() / 24)
		n := tf.Multiplier()
		return ((days%n)+n)%n == 0
	}
	return false
}

// MinVolumeUSD is the default closed-bar quote-volume floor applied by the
// symbol scanner. Callers may override it per scan.
func (tf Timeframe) MinVolumeUSD() float64 {
	switch tf {
	case W1:
		return 500_000
	case D4:
		return 300_000
	case D3:
		return 200_000
	case D2:
		return 150_000
	case D1:
		return 75_000
	case H4:
		return 40_000
	}
	return 75_000
}

// MinSourceBars is the number of source-interval bars a fetch should target
// so that SMA-50 style detectors have warmup after aggregation.
func (tf Timeframe) MinSourceBars() int {
	return (50 + 10) * tf.Multiplier()
}

// Duration returns the nominal length of one bar.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	case D2:
		return 48 * time.Hour
	case D3:
		return 72 * time.Hour
	case D4:
		return 96 * time.Hour
	case W1:
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// NextClose returns the first instant strictly after now at which a bar of tf
// closes. Derived frames close at their period boundaries; 4h bars close on
// the UTC 4-hour grid.
func (tf Timeframe) NextClose(now time.Time) time.Time {
	now = now.UTC()
	switch tf {
	case H4:
		next := now.Truncate(4 * time.Hour).Add(4 * time.Hour)
		return next
	case W1:
		day := now.Truncate(24 * time.Hour)
		offset := (int(time.Monday) - int(day.Weekday()) + 7) % 7
		next := day.AddDate(0, 0, offset)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	default:
		ref, ok := tf.Reference()
		if !ok {
			return now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		}
		idx := tf.PeriodIndex(now)
		next := ref.AddDate(0, 0, (idx+1)*tf.Multiplier())
		if !next.After(now) {
			next = next.AddDate(0, 0, tf.Multiplier())
		}
		return next
	}
}
