package exchange

import "fmt"

// SpeedClass partitions venues by expected API throughput; the orchestrator
// runs each class as its own phase with its own concurrency cap.
type SpeedClass int

const (
	Fast SpeedClass = iota
	Slow
)

// New constructs the client for a venue identifier.
func New(venue string) (Client, error) {
	switch venue {
	case "binance":
		return NewBinance(), nil
	case "binance_futures":
		return NewBinanceFutures(), nil
	case "bybit":
		return NewBybit(), nil
	case "gate":
		return NewGate(), nil
	case "kucoin":
		return NewKuCoin(), nil
	case "mexc":
		return NewMEXC(), nil
	}
	return nil, fmt.Errorf("exchange: unknown venue %q", venue)
}

// Known lists every venue identifier New accepts.
func Known() []string {
	return []string{"binance", "binance_futures", "bybit", "gate", "kucoin", "mexc"}
}

// Speed classifies a venue. Unknown venues are treated as slow so a
// misconfigured name cannot saturate the fast phase.
func Speed(venue string) SpeedClass {
	switch venue {
	case "binance", "binance_futures", "bybit", "gate":
		return Fast
	}
	return Slow
}
