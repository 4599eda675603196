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

// KuCoin v1 market API. Symbols use dashes ("BTC-USDT"), candle rows arrive
// newest-first with SECOND timestamps, and the turnover column carries quote
// volume. Pagination cursors are endAt seconds.
type KuCoin struct {
	*restClient
	baseURL  string
	pageSize int
}

func NewKuCoin() *KuCoin {
	return &KuCoin{
		restClient: newRESTClient("kucoin", 5, 10),
		baseURL:    "https://api.kucoin.com",
		pageSize:   1500,
	}
}

func (k *KuCoin) Name() string { return "kucoin" }

type kucoinEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// "200000" is success; "429000" rate limit; "400100" covers bad symbols.
func kucoinClassify(_ int, body []byte) error {
	var env kucoinEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	switch env.Code {
	case "", "200000":
		return nil
	case "429000":
		return ErrRateLimited
	case "400100":
		return ErrSymbolNotFound
	}
	return fmt.Errorf("kucoin code %s: %s", env.Code, env.Msg)
}

func (k *KuCoin) ListSymbols(ctx context.Context) ([]string, error) {
	url := k.baseURL + "/api/v1/symbols"
	var env kucoinEnvelope
	if err := k.getJSON(ctx, url, &env, kucoinClassify); err != nil {
		return nil, err
	}
	var list []struct {
		Symbol        string `json:"symbol"`
		BaseCurrency  string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		EnableTrading bool   `json:"enableTrading"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return nil, fmt.Errorf("kucoin symbols decode: %w", err)
	}
	symbols := make([]string, 0, len(list))
	for _, s := range list {
		if !s.EnableTrading || s.QuoteCurrency != "USDT" {
			continue
		}
		if IsLeveragedToken(s.BaseCurrency) {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

func kucoinInterval(tf timeframe.Timeframe) (string, error) {
	switch tf.Source() {
	case timeframe.H4:
		return "4hour", nil
	case timeframe.D1:
		return "1day", nil
	}
	return "", ErrUnsupportedTimeframe
}

func (k *KuCoin) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	interval, err := kucoinInterval(tf)
	if err != nil {
		return nil, err
	}
	want := sourceTarget(tf, target)

	var bars []ohlcv.Bar
	endAt := time.Now().Unix()
	for len(bars) < want {
		url := fmt.Sprintf("%s/api/v1/market/candles?type=%s&symbol=%s&endAt=%d",
			k.baseURL, interval, symbol, endAt)

		var env kucoinEnvelope
		if err := k.getJSON(ctx, url, &env, kucoinClassify); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("venue", "kucoin").Str("symbol", symbol).Err(err).Msg("kline fetch failed")
			return &ohlcv.Frame{Symbol: symbol, Venue: "kucoin", TF: tf}, nil
		}
		var rows [][]string
		if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
			break
		}

		oldest := endAt
		for _, row := range rows { // newest first
			bar, ok := kucoinBar(row)
			if !ok {
				continue
			}
			bars = append(bars, bar)
			if s := bar.Ts.Unix(); s < oldest {
				oldest = s
			}
		}
		if oldest >= endAt {
			break
		}
		endAt = oldest - 1
	}
	return finishFrame("kucoin", symbol, tf, bars), nil
}

// Row layout: [ts, open, close, high, low, volume, turnover].
func kucoinBar(row []string) (ohlcv.Bar, bool) {
	if len(row) < 7 {
		return ohlcv.Bar{}, false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
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
		Ts:          time.Unix(sec, 0).UTC(),
		Open:        vals[0],
		Close:       vals[1],
		High:        vals[2],
		Low:         vals[3],
		Volume:      vals[4],
		QuoteVolume: vals[5],
	}, true
}
