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

// Gate.io v4 spot API. Symbols use underscores ("BTC_USDT"), candlestick rows
// arrive oldest-first with SECOND timestamps, and the second column is quote
// volume. Pagination cursors are end-time seconds via the `to` parameter.
type Gate struct {
	*restClient
	baseURL  string
	pageSize int
}

func NewGate() *Gate {
	return &Gate{
		restClient: newRESTClient("gate", 10, 20),
		baseURL:    "https://api.gateio.ws/api/v4",
		pageSize:   1000,
	}
}

func (g *Gate) Name() string { return "gate" }

// Gate reports errors as {"label": "...", "message": "..."} bodies.
func gateClassify(status int, body []byte) error {
	if status == 200 {
		return nil
	}
	var e struct {
		Label   string `json:"label"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		switch e.Label {
		case "INVALID_CURRENCY_PAIR", "INVALID_CURRENCY":
			return ErrSymbolNotFound
		case "TOO_MANY_REQUESTS":
			return ErrRateLimited
		}
	}
	return nil
}

func (g *Gate) ListSymbols(ctx context.Context) ([]string, error) {
	url := g.baseURL + "/spot/currency_pairs"
	var pairs []struct {
		ID          string `json:"id"`
		Base        string `json:"base"`
		Quote       string `json:"quote"`
		TradeStatus string `json:"trade_status"`
	}
	if err := g.getJSON(ctx, url, &pairs, gateClassify); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.TradeStatus != "tradable" || p.Quote != "USDT" {
			continue
		}
		if IsLeveragedToken(p.Base) {
			continue
		}
		symbols = append(symbols, p.ID)
	}
	return symbols, nil
}

func gateInterval(tf timeframe.Timeframe) (string, error) {
	switch tf.Source() {
	case timeframe.H4:
		return "4h", nil
	case timeframe.D1:
		return "1d", nil
	}
	return "", ErrUnsupportedTimeframe
}

func (g *Gate) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	interval, err := gateInterval(tf)
	if err != nil {
		return nil, err
	}
	want := sourceTarget(tf, target)

	var bars []ohlcv.Bar
	to := time.Now().Unix()
	for len(bars) < want {
		url := fmt.Sprintf("%s/spot/candlesticks?currency_pair=%s&interval=%s&limit=%d&to=%d",
			g.baseURL, symbol, interval, g.pageSize, to)

		var rows [][]string
		if err := g.getJSON(ctx, url, &rows, gateClassify); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("venue", "gate").Str("symbol", symbol).Err(err).Msg("kline fetch failed")
			return &ohlcv.Frame{Symbol: symbol, Venue: "gate", TF: tf}, nil
		}
		if len(rows) == 0 {
			break
		}

		oldest := to
		for _, row := range rows { // oldest first
			bar, ok := gateBar(row)
			if !ok {
				continue
			}
			bars = append(bars, bar)
			if s := bar.Ts.Unix(); s < oldest {
				oldest = s
			}
		}
		if oldest >= to {
			break
		}
		to = oldest - 1
	}
	return finishFrame("gate", symbol, tf, bars), nil
}

// Row layout: [ts, quote_volume, close, high, low, open, base_volume, ...].
func gateBar(row []string) (ohlcv.Bar, bool) {
	if len(row) < 7 {
		return ohlcv.Bar{}, false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return ohlcv.Bar{}, false
	}
	parse := func(s string) (float64, bool) {
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}
	qv, ok1 := parse(row[1])
	cl, ok2 := parse(row[2])
	hi, ok3 := parse(row[3])
	lo, ok4 := parse(row[4])
	op, ok5 := parse(row[5])
	vol, ok6 := parse(row[6])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return ohlcv.Bar{}, false
	}
	return ohlcv.Bar{
		Ts:          time.Unix(sec, 0).UTC(),
		Open:        op,
		High:        hi,
		Low:         lo,
		Close:       cl,
		Volume:      vol,
		QuoteVolume: qv,
	}, true
}
