package ssi

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
)

// brokerStatusMap translates broker order states into the local
// lifecycle. Unknown statuses map to PENDING: treating an unknown
// state as terminal could strand a live order.
var brokerStatusMap = map[string]domain.OrderStatus{
	"New":             domain.StatusPending,
	"Pending":         domain.StatusPending,
	"PartiallyFilled": domain.StatusPartialFill,
	"Filled":          domain.StatusMatched,
	"Cancelled":       domain.StatusCancelled,
	"Expired":         domain.StatusCancelled,
	"Rejected":        domain.StatusBrokerRejected,
}

// mapBrokerStatus translates with the defensive default.
func mapBrokerStatus(raw string, log zerolog.Logger) domain.OrderStatus {
	if st, ok := brokerStatusMap[raw]; ok {
		return st
	}
	log.Warn().Str("broker_status", raw).Msg("Unknown broker order status, treating as PENDING")
	return domain.StatusPending
}

// mapOrderType normalizes the broker's order type field. Anything
// unrecognized becomes LO with a warning.
func mapOrderType(raw string, log zerolog.Logger) domain.OrderType {
	t := domain.OrderType(raw)
	if domain.ValidOrderType(t) {
		return t
	}
	log.Warn().Str("broker_order_type", raw).Msg("Unknown broker order type, treating as LO")
	return domain.OrderTypeLO
}

// wireOrder is the broker's order representation. Prices are decimal
// strings on the wire, never floats.
type wireOrder struct {
	OrderID        string `json:"orderID"`
	Symbol         string `json:"instrumentID"`
	Market         string `json:"market"`
	Side           string `json:"buySell"` // "B" / "S"
	OrderType      string `json:"orderType"`
	Quantity       int64  `json:"quantity"`
	Price          string `json:"price"`
	Status         string `json:"orderStatus"`
	FilledQuantity int64  `json:"filledQty"`
	AvgPrice       string `json:"avgPrice"`
}

// parseWireOrder converts a broker order row into the status view the
// synchronizer consumes.
func parseWireOrder(w wireOrder, log zerolog.Logger) (domain.BrokerOrderStatus, error) {
	st := domain.BrokerOrderStatus{
		BrokerOrderID:  w.OrderID,
		Status:         mapBrokerStatus(w.Status, log),
		FilledQuantity: w.FilledQuantity,
	}
	if w.AvgPrice != "" {
		avg, err := decimal.NewFromString(w.AvgPrice)
		if err != nil {
			return domain.BrokerOrderStatus{}, fmt.Errorf("order %s: corrupt avg price %q: %w", w.OrderID, w.AvgPrice, err)
		}
		st.AvgFillPrice = avg
	}
	return st, nil
}

// wireSide converts the domain side to the broker's single-letter
// convention.
func wireSide(side domain.Side) string {
	if side == domain.SideSell {
		return "S"
	}
	return "B"
}

// wirePosition is one holding in the broker's portfolio response.
// The receiving buckets are shares bought but not yet settled; they
// count toward onHand but not sellable.
type wirePosition struct {
	Symbol      string `json:"instrumentID"`
	Market      string `json:"market"`
	Quantity    int64  `json:"onHand"`
	Sellable    int64  `json:"sellable"`
	ReceivingT1 int64  `json:"receivingT1"`
	ReceivingT2 int64  `json:"receivingT2"`
	AvgCost     string `json:"avgPrice"`
	MarketPrice string `json:"marketPrice"`
}

func parseWirePosition(w wirePosition) (domain.Position, error) {
	avg, err := decimal.NewFromString(w.AvgCost)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position %s: corrupt avg cost %q: %w", w.Symbol, w.AvgCost, err)
	}
	mkt, err := decimal.NewFromString(w.MarketPrice)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position %s: corrupt market price %q: %w", w.Symbol, w.MarketPrice, err)
	}
	exch, err := domain.ParseExchange(w.Market)
	if err != nil {
		// Venue is informational on positions; default rather than
		// drop the holding.
		exch = domain.ExchangeHOSE
	}
	return domain.Position{
		Symbol:           domain.Symbol(w.Symbol),
		Exchange:         exch,
		Quantity:         w.Quantity,
		SellableQuantity: w.Sellable,
		ReceivingT1:      w.ReceivingT1,
		ReceivingT2:      w.ReceivingT2,
		AvgCost:          avg,
		MarketPrice:      mkt,
	}, nil
}

// wireTick is one trade print from the market data feed.
type wireTick struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"lastPrice"`
	Volume   int64  `json:"lastVol"`
	Exchange string `json:"exchange"`
	Time     string `json:"tradingTime"` // RFC3339
}

// parseWireTick validates a feed message into a domain tick.
func parseWireTick(w wireTick) (domain.Tick, error) {
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("tick %s: corrupt price %q: %w", w.Symbol, w.Price, err)
	}
	exch, err := domain.ParseExchange(w.Exchange)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("tick %s: %w", w.Symbol, err)
	}
	ts, err := time.Parse(time.RFC3339, w.Time)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("tick %s: corrupt timestamp %q: %w", w.Symbol, w.Time, err)
	}
	return domain.NewTick(domain.Symbol(w.Symbol), price, w.Volume, exch, ts)
}
