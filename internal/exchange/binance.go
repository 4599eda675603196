package exchange

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// Binance wraps the go-binance spot client. Symbols are compact ("BTCUSDT"),
// rows ascending with millisecond open times, pagination via endTime.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
}

func NewBinance() *Binance {
	return &Binance{
		client:  binance.NewClient("", ""),
		limiter: rate.NewLimiter(rate.Limit(15), 30),
	}
}

// SetBaseURL redirects the client, used by tests against a fake venue.
func (b *Binance) SetBaseURL(url string) { b.client.BaseURL = url }

func (b *Binance) Name() string { return "binance" }

func binanceInterval(tf timeframe.Timeframe) (string, error) {
	switch tf.Source() {
	case timeframe.H4:
		return "4h", nil
	case timeframe.D1:
		return "1d", nil
	}
	return "", ErrUnsupportedTimeframe
}

// classifyBinanceErr maps go-binance API errors onto the shared sentinels.
// -1003 and -1015 are request-weight bans, -1121 an unknown symbol.
func classifyBinanceErr(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015:
			return ErrRateLimited
		case -1121:
			return ErrSymbolNotFound
		}
	}
	return err
}

func (b *Binance) ListSymbols(ctx context.Context) ([]string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		if IsLeveragedToken(s.BaseAsset) {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

func (b *Binance) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	interval, err := binanceInterval(tf)
	if err != nil {
		return nil, err
	}
	want := sourceTarget(tf, target)

	var bars []ohlcv.Bar
	end := time.Now().UnixMilli()
	for len(bars) < want {
		page, err := b.fetchPage(ctx, symbol, interval, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("venue", "binance").Str("symbol", symbol).Err(err).Msg("kline fetch failed")
			return &ohlcv.Frame{Symbol: symbol, Venue: "binance", TF: tf}, nil
		}
		if len(page) == 0 {
			break
		}
		oldest := end
		for _, k := range page {
			bar, ok := binanceBar(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume)
			if !ok {
				continue
			}
			bars = append(bars, bar)
			if k.OpenTime < oldest {
				oldest = k.OpenTime
			}
		}
		if oldest >= end {
			break
		}
		end = oldest - 1
	}
	return finishFrame("binance", symbol, tf, bars), nil
}

// fetchPage pulls one backward page, retrying rate limits with the shared
// 2s/4s/6s ladder.
func (b *Binance) fetchPage(ctx context.Context, symbol, interval string, end int64) ([]*binance.Kline, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(2*attempt) * time.Second):
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(1000).
			EndTime(end).
			Do(ctx)
		if err == nil {
			return page, nil
		}
		lastErr = classifyBinanceErr(err)
		if lastErr != ErrRateLimited {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func binanceBar(openTimeMs int64, open, high, low, closePx, volume, quoteVol string) (ohlcv.Bar, bool) {
	parse := func(s string) (float64, bool) {
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}
	op, ok1 := parse(open)
	hi, ok2 := parse(high)
	lo, ok3 := parse(low)
	cl, ok4 := parse(closePx)
	vol, ok5 := parse(volume)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return ohlcv.Bar{}, false
	}
	qv, _ := parse(quoteVol)
	return ohlcv.Bar{
		Ts:          time.UnixMilli(openTimeMs).UTC(),
		Open:        op,
		High:        hi,
		Low:         lo,
		Close:       cl,
		Volume:      vol,
		QuoteVolume: qv,
	}, true
}

// BinanceFutures wraps the go-binance USD-M futures client for the
// perpetual-contract venue.
type BinanceFutures struct {
	client  *futures.Client
	limiter *rate.Limiter
}

func NewBinanceFutures() *BinanceFutures {
	return &BinanceFutures{
		client:  binance.NewFuturesClient("", ""),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// SetBaseURL redirects the client, used by tests against a fake venue.
func (b *BinanceFutures) SetBaseURL(url string) { b.client.BaseURL = url }

func (b *BinanceFutures) Name() string { return "binance_futures" }

func (b *BinanceFutures) ListSymbols(ctx context.Context) ([]string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		if s.ContractType != "PERPETUAL" {
			continue
		}
		if IsLeveragedToken(s.BaseAsset) {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

func (b *BinanceFutures) FetchKlines(ctx context.Context, symbol string, tf timeframe.Timeframe, target int) (*ohlcv.Frame, error) {
	interval, err := binanceInterval(tf)
	if err != nil {
		return nil, err
	}
	want := sourceTarget(tf, target)

	var bars []ohlcv.Bar
	end := time.Now().UnixMilli()
	for len(bars) < want {
		page, err := b.fetchPage(ctx, symbol, interval, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("venue", "binance_futures").Str("symbol", symbol).Err(err).Msg("kline fetch failed")
			return &ohlcv.Frame{Symbol: symbol, Venue: "binance_futures", TF: tf}, nil
		}
		if len(page) == 0 {
			break
		}
		oldest := end
		for _, k := range page {
			bar, ok := binanceBar(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume)
			if !ok {
				continue
			}
			bars = append(bars, bar)
			if k.OpenTime < oldest {
				oldest = k.OpenTime
			}
		}
		if oldest >= end {
			break
		}
		end = oldest - 1
	}
	return finishFrame("binance_futures", symbol, tf, bars), nil
}

func (b *BinanceFutures) fetchPage(ctx context.Context, symbol, interval string, end int64) ([]*futures.Kline, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(2*attempt) * time.Second):
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(1000).
			EndTime(end).
			Do(ctx)
		if err == nil {
			return page, nil
		}
		lastErr = classifyBinanceErr(err)
		if lastErr != ErrRateLimited {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
