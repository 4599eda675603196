// Package ohlcv holds the canonical in-memory candlestick frame shared by
// every exchange client and pattern detector, plus the deterministic
// aggregation from daily bars to derived intervals and the rolling indicator
// kit the detectors are built on.
package ohlcv

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// ErrInsufficientData is returned when a frame is too short for the requested
// operation. Detectors treat it as "no signal", never as a failure.
var ErrInsufficientData = errors.New("ohlcv: insufficient data")

// Bar is one OHLCV record. Ts is the opening instant of the interval, always
// normalized to UTC so cross-venue arithmetic never mixes zones.
type Bar struct {
	Ts     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	// QuoteVolume is the venue-reported quote-asset turnover when available,
	// zero otherwise. The volume gate prefers it over Volume*Close.
	QuoteVolume float64
}

// Range returns high minus low.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-to-close distance.
func (b Bar) Body() float64 { return math.Abs(b.Close - b.Open) }

// Up reports a bullish bar.
func (b Bar) Up() bool { return b.Close > b.Open }

// Down reports a bearish bar.
func (b Bar) Down() bool { return b.Close < b.Open }

// UpperWick returns the distance from the body top to the high.
func (b Bar) UpperWick() float64 { return b.High - math.Max(b.Open, b.Close) }

// LowerWick returns the distance from the body bottom to the low.
func (b Bar) LowerWick() float64 { return math.Min(b.Open, b.Close) - b.Low }

// CloseLocation returns (close-low)/range in [0,1], or 0.5 for zero-range bars.
func (b Bar) CloseLocation() float64 {
	r := b.Range()
	if r <= 0 {
		return 0.5
	}
	return (b.Close - b.Low) / r
}

// HL2 is the bar midpoint.
func (b Bar) HL2() float64 { return (b.High + b.Low) / 2 }

// Frame is an ordered series of bars for one symbol on one timeframe.
// Timestamps are strictly increasing. Detectors receive frames read-only.
type Frame struct {
	Symbol string
	Venue  string
	TF     timeframe.Timeframe
	Bars   []Bar
}

// Len returns the number of bars.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Bars)
}

// Abs resolves a check-bar index (-1 currently forming, -2 last closed) to an
// absolute index. The second return is false when the frame is too short.
func (f *Frame) Abs(checkBar int) (int, bool) {
	if checkBar >= 0 {
		if checkBar < f.Len() {
			return checkBar, true
		}
		return 0, false
	}
	i := f.Len() + checkBar
	if i < 0 {
		return 0, false
	}
	return i, true
}

// Bar returns the bar at a check-bar or absolute index.
func (f *Frame) Bar(i int) Bar {
	abs, _ := f.Abs(i)
	return f.Bars[abs]
}

// Last returns the most recent bar; ok is false on an empty frame.
func (f *Frame) Last() (Bar, bool) {
	if f.Len() == 0 {
		return Bar{}, false
	}
	return f.Bars[len(f.Bars)-1], true
}

// Closes returns the close series. The slice aliases frame memory only when
// the caller promises not to mutate it; detectors do not.
func (f *Frame) Closes() []float64 { return f.column(func(b Bar) float64 { return b.Close }) }

// Highs returns the high series.
func (f *Frame) Highs() []float64 { return f.column(func(b Bar) float64 { return b.High }) }

// Lows returns the low series.
func (f *Frame) Lows() []float64 { return f.column(func(b Bar) float64 { return b.Low }) }

// Volumes returns the volume series.
func (f *Frame) Volumes() []float64 { return f.column(func(b Bar) float64 { return b.Volume }) }

// Spreads returns the high-low range series.
func (f *Frame) Spreads() []float64 { return f.column(func(b Bar) float64 { return b.High - b.Low }) }

func (f *Frame) column(get func(Bar) float64) []float64 {
	out := make([]float64, len(f.Bars))
	for i, b := range f.Bars {
		out[i] = get(b)
	}
	return out
}

// QuoteVolumeUSD returns the USD turnover of the bar at index i, preferring
// venue-reported quote volume and falling back to volume*close.
func (f *Frame) QuoteVolumeUSD(i int) float64 {
	b := f.Bar(i)
	if b.QuoteVolume > 0 {
		return b.QuoteVolume
	}
	return b.Volume * b.Close
}

// Normalize sorts bars ascending by timestamp, forces timestamps to UTC,
// drops rows containing NaN fields, and removes duplicate timestamps keeping
// the later-seen row. Venue clients call it after decoding raw klines so that
// every downstream consumer sees the same canonical shape.
func Normalize(symbol, venue string, tf timeframe.Timeframe, bars []Bar) *Frame {
	clean := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if math.IsNaN(b.Open) || math.IsNaN(b.High) || math.IsNaN(b.Low) ||
			math.IsNaN(b.Close) || math.IsNaN(b.Volume) {
			continue
		}
		b.Ts = b.Ts.UTC()
		clean = append(clean, b)
	}
	sort.SliceStable(clean, func(i, j int) bool { return clean[i].Ts.Before(clean[j].Ts) })

	dedup := clean[:0]
	for _, b := range clean {
		if n := len(dedup); n > 0 && dedup[n-1].Ts.Equal(b.Ts) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}

	return &Frame{Symbol: symbol, Venue: venue, TF: tf, Bars: dedup}
}
