package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// MEXC v3 API mirrors the Binance wire format: compact symbols, millisecond
// timestamps, ascending kline arrays with quote volume in column seven, and
// endTime pagination.
type MEXC struct {
	*restClient
	baseURL  string
	pageSize int
}

func NewMEXC() *MEXC {
	return &MEXC{
		restClient: newRESTClient("mexc", 5, 10),
		baseURL:    "https://api.mexc.com",
		pageSize:   1000,
	}
}

func (m *MEXC) Name() string { return "mexc" }

func mexcClassify(status int, body []byte) error {
	if status == 200 {
		return nil
	}
	// MEXC reports {"code": -1121, "msg": "Invalid symbol."} Binance-style.
	var e struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		switch e.Code {
		case -1121:
			return ErrSymbolNotFound
		case -1003:
			return ErrRateLimited
		}
	}
	return nil
}

func (m *MEXC) ListSymbols(ctx context.Context) ([]string, error) {
	url := m.baseURL + "/api/v3/exchangeInfo"
	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := m.getJSON(ctx, url, &info, mexcClassify); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		// MEXC status "1" means trading on the v3 endpoint.
		if s.Status != "1" && s.Status != "ENABLED" {
			continue
		}
		if s.QuoteAsset != "USDT" || IsLeveragedToken(s.BaseAsset) {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

func mexcInterval(tf timeframe.Timeframe) (string, error) {
	switch tf.Source() {
	case timeframe.H4:
		return "4h", nil
	case timeframe.D1:
		return "1d", nil
	}
	return "", ErrUnsupportedTimeframe
}

func (m *MEXC) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	interval, err := mexcInterval(tf)
	if err != nil {
		return nil, err
	}
	want := sourceTarget(tf, target)

	var bars []ohlcv.Bar
	end := time.Now().UnixMilli()
	for len(bars) < want {
		url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d&endTime=%d",
			m.baseURL, symbol, interval, m.pageSize, end)

		var rows [][]any
		if err := m.getJSON(ctx, url, &rows, mexcClassify); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("venue", "mexc").Str("symbol", symbol).Err(err).Msg("kline fetch failed")
			return &ohlcv.Frame{Symbol: symbol, Venue: "mexc", TF: tf}, nil
		}
		if len(rows) == 0 {
			break
		}

		oldest := end
		for _, row := range rows { // oldest first
			bar, ok := mexcBar(row)
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
	return finishFrame("mexc", symbol, tf, bars), nil
}

// Row layout: [openTimeMs, open, high, low, close, volume, closeTime, quoteVolume].
func mexcBar(row []any) (ohlcv.Bar, bool) {
	if len(row) < 8 {
		return ohlcv.Bar{}, false
	}
	ms, ok := row[0].(float64)
	if !ok {
		return ohlcv.Bar{}, false
	}
	parse := func(v any) (float64, bool) {
		switch x := v.(type) {
		case string:
			f, err := strconv.ParseFloat(x, 64)
			return f, err == nil
		case float64:
			return x, true
		}
		return 0, false
	}
	op, ok1 := parse(row[1])
	hi, ok2 := parse(row[2])
	lo, ok3 := parse(row[3])
	cl, ok4 := parse(row[4])
	vol, ok5 := parse(row[5])
	qv, ok6 := parse(row[7])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return ohlcv.Bar{}, false
	}
	return ohlcv.Bar{
		Ts:          time.UnixMilli(int64(ms)).UTC(),
		Open:        op,
		High:        hi,
		Low:         lo,
		Close:       cl,
		Volume:      vol,
		QuoteVolume: qv,
	}, true
}
