package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// Bybit v5 market API. Symbols are compact ("BTCUSDT"), kline rows arrive
// newest-first with millisecond start times, and the turnover column carries
// quote volume. Pagination cursors are end-time milliseconds.
type Bybit struct {
	*restClient
	baseURL  string
	category string // "spot" or "linear"
	pageSize int
}

// NewBybit returns a spot-market Bybit client.
func NewBybit() *Bybit {
	return &Bybit{
		restClient: newRESTClient("bybit", 10, 20),
		baseURL:    "https://api.bybit.com",
		category:   "spot",
		pageSize:   1000,
	}
}

func (b *Bybit) Name() string { return "bybit" }

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Body-level error codes: 10006 is the documented rate-limit code, 10001 a
// parameter error which for kline requests means an unknown symbol.
func bybitClassify(_ int, body []byte) error {
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil // let the caller surface the decode failure
	}
	switch env.RetCode {
	case 0:
		return nil
	case 10006:
		return ErrRateLimited
	case 10001:
		return ErrSymbolNotFound
	}
	return fmt.Errorf("bybit retCode %d: %s", env.RetCode, env.RetMsg)
}

func (b *Bybit) ListSymbols(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/v5/market/instruments-info?category=%s&limit=1000", b.baseURL, b.category)
	var env bybitEnvelope
	if err := b.getJSON(ctx, url, &env, bybitClassify); err != nil {
		return nil, err
	}
	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("bybit instruments decode: %w", err)
	}
	symbols := make([]string, 0, len(result.List))
	for _, s := range result.List {
		if s.Status != "Trading" || s.QuoteCoin != "USDT" {
			continue
		}
		if IsLeveragedToken(s.BaseCoin) {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

func bybitInterval(tf timeframe.Timeframe) (string, error) {
	switch tf.Source() {
	case timeframe.H4:
		return "240", nil
	case timeframe.D1:
		return "D", nil
	}
	return "", ErrUnsupportedTimeframe
}

func (b *Bybit) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	interval, err := bybitInterval(tf)
	if err != nil {
		return nil, err
	}
	want := sourceTarget(tf, target)

	var bars []ohlcv.Bar
	end := time.Now().UnixMilli()
	for len(bars) < want {
		url := fmt.Sprintf("%s/v5/market/kline?category=%s&symbol=%s&interval=%s&limit=%d&end=%d",
			b.baseURL, b.category, symbol, interval, b.pageSize, end)

		var env bybitEnvelope
		if err := b.getJSON(ctx, url, &env, bybitClassify); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("venue", "bybit").Str("symbol", symbol).Err(err).Msg("kline fetch failed")
			return &ohlcv.Frame{Symbol: symbol, Venue: "bybit", TF: tf}, nil
		}
		var result struct {
			List [][]string `json:"list"`
		}
		if err := json.Unmarshal(env.Result, &result); err != nil {
			log.Warn().Str("venue", "bybit").Str("symbol", symbol).Err(err).Msg("kline decode failed")
			return &ohlcv.Frame{Symbol: symbol, Venue: "bybit", TF: tf}, nil
		}
		if len(result.List) == 0 {
			break
		}

		oldest := end
		for _, row := range result.List { // newest first
			bar, ok := bybitBar(row)
			if !ok {
				continue
			}
			bars = append(bars, bar)
			if ms := bar.Ts.UnixMilli(); ms < oldest {
				oldest = ms
			}
		}
		if oldest >= end {
			break
		}
		end = oldest - 1
	}
	return finishFrame("bybit", symbol, tf, bars), nil
}

// Row layout: [startMs, open, high, low, close, volume, turnover].
func bybitBar(row []string) (ohlcv.Bar, bool) {
	if len(row) < 7 {
		return ohlcv.Bar{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return ohlcv.Bar{}, false
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return ohlcv.Bar{}, false
		}
		vals[i] = v
	}
	return ohlcv.Bar{
		Ts:          time.UnixMilli(ms).UTC(),
		Open:        vals[0],
		High:        vals[1],
		Low:         vals[2],
		Close:       vals[3],
		Volume:      vals[4],
		QuoteVolume: vals[5],
	}, true
}
