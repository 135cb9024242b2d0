// Package domain holds the core types of the trading system: market
// data ticks, the order state machine, portfolio snapshots and the
// ports (interfaces) the adapters implement. Everything in this
// package is side-effect free.
package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LotSize is the board lot on all Vietnamese exchanges. Order
// quantities must be exact multiples.
const LotSize int64 = 100

// Exchange identifies a Vietnamese trading venue.
type Exchange string

const (
	ExchangeHOSE  Exchange = "HOSE"
	ExchangeHNX   Exchange = "HNX"
	ExchangeUPCOM Exchange = "UPCOM"
)

// ParseExchange normalizes an exchange code. Unknown venues are an
// error rather than a silent default: band math depends on the venue.
func ParseExchange(s string) (Exchange, error) {
	switch Exchange(strings.ToUpper(strings.TrimSpace(s))) {
	case ExchangeHOSE:
		return ExchangeHOSE, nil
	case ExchangeHNX:
		return ExchangeHNX, nil
	case ExchangeUPCOM:
		return ExchangeUPCOM, nil
	}
	return "", fmt.Errorf("unknown exchange %q", s)
}

// BandPct returns the daily price band of the venue as a fraction
// (HOSE ±7%, HNX ±10%, UPCOM ±15%).
func (e Exchange) BandPct() decimal.Decimal {
	switch e {
	case ExchangeHOSE:
		return decimal.NewFromFloat(0.07)
	case ExchangeHNX:
		return decimal.NewFromFloat(0.10)
	case ExchangeUPCOM:
		return decimal.NewFromFloat(0.15)
	}
	return decimal.Zero
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes an order side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// OrderType is the execution instruction sent to the broker. LO is
// the safe default: everything unrecognized coming back from the
// broker is normalized to LO with a warning at the adapter boundary.
type OrderType string

const (
	OrderTypeLO  OrderType = "LO"  // limit order
	OrderTypeATO OrderType = "ATO" // at-the-open auction
	OrderTypeATC OrderType = "ATC" // at-the-close auction
	OrderTypeMP  OrderType = "MP"  // market price
)

// ValidOrderType reports whether t is one of the supported types.
func ValidOrderType(t OrderType) bool {
	switch t {
	case OrderTypeLO, OrderTypeATO, OrderTypeATC, OrderTypeMP:
		return true
	}
	return false
}

// Symbol is an exchange ticker (e.g. "FPT", "HPG"). Symbols are
// stored uppercase.
type Symbol string

// NewSymbol validates and normalizes a ticker.
func NewSymbol(s string) (Symbol, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("symbol must not be empty")
	}
	if len(s) > 12 {
		return "", fmt.Errorf("symbol %q too long", s)
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("symbol %q contains invalid character %q", s, r)
		}
	}
	return Symbol(s), nil
}

func (s Symbol) String() string { return string(s) }

// IsLotAligned reports whether qty is a positive multiple of the
// board lot.
func IsLotAligned(qty int64) bool {
	return qty > 0 && qty%LotSize == 0
}

// RoundToLot rounds qty down to the nearest board lot.
func RoundToLot(qty int64) int64 {
	if qty < 0 {
		return 0
	}
	return qty - qty%LotSize
}
