package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BrokerOrderRequest is what the OMS hands to a broker adapter.
type BrokerOrderRequest struct {
	Symbol    Symbol
	Exchange  Exchange
	Side      Side
	OrderType OrderType
	Quantity  int64
	Price     decimal.Decimal
	ClientRef string // local order id, echoed back by the broker
}

// BrokerOrderAck is the broker's acceptance of a new order.
type BrokerOrderAck struct {
	BrokerOrderID string
	Status        OrderStatus
}

// BrokerOrderStatus is a point-in-time broker view of one order.
type BrokerOrderStatus struct {
	BrokerOrderID  string
	Status         OrderStatus
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal
}

// Broker is the order-entry port. Implementations own auth, signing,
// resilience and wire formats; callers see domain types only.
type Broker interface {
	PlaceOrder(ctx context.Context, req BrokerOrderRequest) (BrokerOrderAck, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	OrderStatus(ctx context.Context, brokerOrderID string) (BrokerOrderStatus, error)
	OpenOrders(ctx context.Context) ([]BrokerOrderStatus, error)
	Portfolio(ctx context.Context) (PortfolioState, error)
}

// StreamState is the connection state of a market data stream.
type StreamState string

const (
	StreamDisconnected StreamState = "DISCONNECTED"
	StreamConnecting   StreamState = "CONNECTING"
	StreamConnected    StreamState = "CONNECTED"
	StreamReconnecting StreamState = "RECONNECTING"
	StreamFatal        StreamState = "FATAL"
)

// MarketStream is the market data port. Ticks delivers parsed trade
// prints; malformed feed messages are dropped inside the adapter and
// never surface here.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []Symbol) error
	Ticks() <-chan Tick
	State() StreamState
	Close() error
}

// TickStore persists market data prints.
type TickStore interface {
	InsertBatch(ctx context.Context, ticks []Tick) (int, error)
	LatestPrice(ctx context.Context, symbol Symbol) (decimal.Decimal, time.Time, error)
	Candles(ctx context.Context, symbol Symbol, interval time.Duration, from, to time.Time) ([]Candle, error)
}

// OrderStore persists the local order log.
type OrderStore interface {
	Save(ctx context.Context, o Order) error
	Get(ctx context.Context, orderID string) (Order, error)
	Open(ctx context.Context) ([]Order, error)
	PendingSellQuantity(ctx context.Context, symbol Symbol) (int64, error)
}

// IdempotencyStore caches terminal results of order placement keyed
// by client idempotency key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, result []byte, ttl time.Duration) error
	PruneExpired(ctx context.Context) (int64, error)
}

// Notifier delivers human-facing alerts. Implementations decide the
// channel; the core only distinguishes severity.
type Notifier interface {
	Info(ctx context.Context, title, message string) error
	Alert(ctx context.Context, title, message string) error
}

// AIEngine produces narrative analysis for the fundamental agent. The
// engine is opaque: prompts and models are an implementation concern.
type AIEngine interface {
	Analyze(ctx context.Context, symbol Symbol, facts map[string]string) (string, error)
}

// FinancialStatement is the per-period fundamental record used by the
// screeners and the early-warning engine. Ratios are plain float64:
// they feed scoring, never order prices.
type FinancialStatement struct {
	Symbol            Symbol
	Period            string // e.g. "2025Q4"
	ROE               float64
	ROA               float64
	NetMargin         float64
	AssetTurnover     float64
	Leverage          float64
	InterestBurden    float64
	TaxBurden         float64
	DebtToEquity      float64
	CurrentRatio      float64
	AltmanZ           float64
	PiotroskiF        int
	OperatingCashFlow float64
	NetIncome         float64
	PE                float64
	PB                float64
	MarketCap         float64
}

// FinancialData serves fundamentals, newest period first.
type FinancialData interface {
	Statements(ctx context.Context, symbol Symbol, periods int) ([]FinancialStatement, error)
	Universe(ctx context.Context) ([]Symbol, error)
}
