// Package sink turns scan results into their outbound forms: typed event
// records for Postgres, chunked Telegram notifications, CSV exports, and a
// Redis cache that keeps repeat alerts quiet.
package sink

import (
	"sort"
	"time"

	"github.com/chartwatch/chartwatch/internal/scanner"
)

// Only this subset of strategies is persisted as events.
var forwardedStrategies = map[string]bool{
	"confluence":             true,
	"consolidation_breakout": true,
	"channel_breakout":       true,
	"sma50_breakout":         true,
	"pin_up":                 true,
	"trend_breakout":         true,
	"loaded_bar":             true,
	"bullish_engulfing":      true,
}

// Event is one row in the event store, keyed by (symbol, venue, timeframe,
// bar_ts). One record accumulates every forwarded strategy that fired on
// that bar.
type Event struct {
	Symbol    string    `db:"symbol"`
	Venue     string    `db:"venue"`
	Timeframe string    `db:"timeframe"`
	BarTs     time.Time `db:"bar_ts"`

	Confluence            bool `db:"confluence"`
	ConsolidationBreakout bool `db:"consolidation_breakout"`
	ChannelBreakout       bool `db:"channel_breakout"`
	SMA50Breakout         bool `db:"sma50_breakout"`
	PinUp                 bool `db:"pin_up"`
	TrendBreakout         bool `db:"trend_breakout"`
	LoadedBar             bool `db:"loaded_bar"`
	BullishEngulfing      bool `db:"bullish_engulfing"`

	Direction    int     `db:"direction"`
	BoxAge       int     `db:"box_age"`
	HeightPct    float64 `db:"height_pct"`
	ChannelSlope float64 `db:"channel_slope"`
	Strength     string  `db:"strength"`
	BreakoutType string  `db:"breakout_type"`

	Close     float64 `db:"close"`
	VolumeUSD float64 `db:"volume_usd"`
}

type eventKey struct {
	symbol, venue, tf string
	barTs             time.Time
}

// MapResults folds per-strategy results into event records, one per
// (symbol, venue, timeframe, bar_ts). Strategies outside the forwarded
// subset are dropped. Output order is deterministic.
func MapResults(results map[string][]scanner.Result) []Event {
	byKey := make(map[eventKey]*Event)
	for strategy, rs := range results {
		if !forwardedStrategies[strategy] {
			continue
		}
		for _, r := range rs {
			key := eventKey{r.Symbol, r.Venue, r.TF.String(), r.BarTs}
			ev, ok := byKey[key]
			if !ok {
				ev = &Event{
					Symbol:    r.Symbol,
					Venue:     r.Venue,
					Timeframe: r.TF.String(),
					BarTs:     r.BarTs,
					Close:     r.Close,
					VolumeUSD: r.VolumeUSD,
				}
				byKey[key] = ev
			}
			applyStrategy(ev, strategy, r)
		}
	}

	events := make([]Event, 0, len(byKey))
	for _, ev := range byKey {
		events = append(events, *ev)
	}
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Venue != b.Venue {
			return a.Venue < b.Venue
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe < b.Timeframe
		}
		return a.BarTs.Before(b.BarTs)
	})
	return events
}

func applyStrategy(ev *Event, strategy string, r scanner.Result) {
	switch strategy {
	case "confluence":
		ev.Confluence = true
	case "consolidation_breakout":
		ev.ConsolidationBreakout = true
		ev.BoxAge = payloadInt(r.Payload, "age")
		ev.HeightPct = payloadFloat(r.Payload, "height_pct")
		if s, ok := r.Payload["strength"].(string); ok && ev.Strength == "" {
			ev.Strength = s
		}
	case "channel_breakout":
		ev.ChannelBreakout = true
		ev.ChannelSlope = payloadFloat(r.Payload, "slope")
	case "sma50_breakout":
		ev.SMA50Breakout = true
		if s, ok := r.Payload["strength"].(string); ok {
			ev.Strength = s
		}
		if bt, ok := r.Payload["breakout_type"].(string); ok {
			ev.BreakoutType = bt
		}
	case "pin_up":
		ev.PinUp = true
	case "trend_breakout":
		ev.TrendBreakout = true
	case "loaded_bar":
		ev.LoadedBar = true
	case "bullish_engulfing":
		ev.BullishEngulfing = true
	}
	if d := payloadInt(r.Payload, "direction"); d != 0 && ev.Direction == 0 {
		ev.Direction = d
	}
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
