package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single trade print from the market data feed. Price is
// exact decimal; float64 never touches the financial path.
type Tick struct {
	Symbol    Symbol          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Exchange  Exchange        `json:"exchange"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTick builds a validated tick.
func NewTick(symbol Symbol, price decimal.Decimal, volume int64, exchange Exchange, ts time.Time) (Tick, error) {
	if symbol == "" {
		return Tick{}, fmt.Errorf("tick: symbol must not be empty")
	}
	if !price.IsPositive() {
		return Tick{}, fmt.Errorf("tick %s: price must be positive, got %s", symbol, price)
	}
	if volume < 0 {
		return Tick{}, fmt.Errorf("tick %s: volume must not be negative, got %d", symbol, volume)
	}
	if ts.IsZero() {
		return Tick{}, fmt.Errorf("tick %s: timestamp must be set", symbol)
	}
	return Tick{Symbol: symbol, Price: price, Volume: volume, Exchange: exchange, Timestamp: ts.UTC()}, nil
}

// Candle is an aggregated OHLCV bar produced by the tick store.
type Candle struct {
	Symbol   Symbol          `json:"symbol"`
	BucketTS time.Time       `json:"bucket_ts"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   int64           `json:"volume"`
}
