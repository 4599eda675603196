// Package stream keeps forming bars fresh between REST scans by following
// Binance kline websocket streams and patching the cached frames in place.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/framecache"
	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

const (
	defaultWSBase  = "wss://stream.binance.com:9443/ws"
	reconnectDelay = 5 * time.Second
	readRetryDelay = time.Second
)

// KlineEvent is the Binance kline stream envelope.
type KlineEvent struct {
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     KlineData `json:"k"`
}

type KlineData struct {
	StartTime int64  `json:"t"`
	EndTime   int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`

	Open        json.Number `json:"o"`
	Close       json.Number `json:"c"`
	High        json.Number `json:"h"`
	Low         json.Number `json:"l"`
	Volume      json.Number `json:"v"`
	QuoteVolume json.Number `json:"q"`

	IsClosed bool `json:"x"`
}

// Streamer follows one symbol's kline stream and applies each update to the
// frame cache, so the "current bar" policy sees live data.
type Streamer struct {
	BaseURL string
	Venue   string
	Symbol  string
	TF      timeframe.Timeframe
	Cache   *framecache.Cache

	// Events, when set, receives a copy of every update after it has been
	// applied to the cache.
	Events chan<- KlineEvent
}

func NewStreamer(venue, symbol string, tf timeframe.Timeframe, cache *framecache.Cache) *Streamer {
	return &Streamer{
		BaseURL: defaultWSBase,
		Venue:   venue,
		Symbol:  symbol,
		TF:      tf,
		Cache:   cache,
	}
}

func streamInterval(tf timeframe.Timeframe) string {
	if tf.Source() == timeframe.H4 {
		return "4h"
	}
	return "1d"
}

func (s *Streamer) url() string {
	return fmt.Sprintf("%s/%s@kline_%s", s.BaseURL, strings.ToLower(s.Symbol), streamInterval(s.TF))
}

// Run connects and reads until the context is cancelled, reconnecting with
// a fixed delay on any failure.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url(), nil)
		if err != nil {
			log.Warn().Str("symbol", s.Symbol).Err(err).Msg("kline stream dial failed")
			if err := sleepCtx(ctx, reconnectDelay); err != nil {
				return err
			}
			continue
		}
		log.Info().Str("symbol", s.Symbol).Str("interval", streamInterval(s.TF)).Msg("kline stream connected")

		s.readLoop(ctx, conn)
		conn.Close()
		if err := sleepCtx(ctx, readRetryDelay); err != nil {
			return err
		}
	}
}

func (s *Streamer) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() // unblocks ReadMessage
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Str("symbol", s.Symbol).Err(err).Msg("kline stream read failed")
			}
			return
		}
		var event KlineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warn().Str("symbol", s.Symbol).Err(err).Msg("kline stream decode failed")
			continue
		}
		s.Apply(event)
		if s.Events != nil {
			select {
			case s.Events <- event:
			default: // slow consumer, drop
			}
		}
	}
}

// Apply patches the cached frame with the update: the forming bar is
// replaced, a newly closed bar is appended once. Scanner goroutines may
// still hold the previous frame pointer, so the patch builds a fresh frame
// and swaps it into the cache instead of writing through the shared slice.
// Derived timeframes are not patched; they are rebuilt from daily data on
// the next fetch.
func (s *Streamer) Apply(event KlineEvent) {
	if s.TF.Derived() {
		return
	}
	frame := s.Cache.Get(s.Venue, s.TF, s.Symbol)
	if frame == nil || frame.Len() == 0 {
		return
	}
	bar, ok := eventBar(event.Kline)
	if !ok {
		return
	}

	last := frame.Bars[frame.Len()-1]
	var bars []ohlcv.Bar
	switch {
	case bar.Ts.Equal(last.Ts):
		bars = make([]ohlcv.Bar, frame.Len())
		copy(bars, frame.Bars)
		bars[len(bars)-1] = bar
	case bar.Ts.After(last.Ts):
		bars = make([]ohlcv.Bar, frame.Len(), frame.Len()+1)
		copy(bars, frame.Bars)
		bars = append(bars, bar)
	default:
		return // stale update
	}
	s.Cache.Put(&ohlcv.Frame{Symbol: frame.Symbol, Venue: frame.Venue, TF: frame.TF, Bars: bars})
}

func eventBar(k KlineData) (ohlcv.Bar, bool) {
	open, err1 := k.Open.Float64()
	high, err2 := k.High.Float64()
	low, err3 := k.Low.Float64()
	closePx, err4 := k.Close.Float64()
	vol, err5 := k.Volume.Float64()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return ohlcv.Bar{}, false
	}
	qv, _ := k.QuoteVolume.Float64()
	return ohlcv.Bar{
		Ts:          time.UnixMilli(k.StartTime).UTC(),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePx,
		Volume:      vol,
		QuoteVolume: qv,
	}, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
