// Package risk implements the pre-trade controls: daily price bands,
// the T+ settlement calendar and the comprehensive order validator.
// Everything here is pure; persistence and transport live elsewhere.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
)

var (
	tick10  = decimal.NewFromInt(10)
	tick50  = decimal.NewFromInt(50)
	tick100 = decimal.NewFromInt(100)

	hoseTier1 = decimal.NewFromInt(10_000)
	hoseTier2 = decimal.NewFromInt(50_000)
)

// TickSize returns the minimum price increment for a price level on
// the venue. HOSE uses tiered ticks (10 below 10k, 50 from 10k to
// 50k, 100 at and above 50k VND); HNX and UPCOM quote in steps of 100.
func TickSize(exchange domain.Exchange, price decimal.Decimal) decimal.Decimal {
	if exchange != domain.ExchangeHOSE {
		return tick100
	}
	switch {
	case price.LessThan(hoseTier1):
		return tick10
	case price.LessThan(hoseTier2):
		return tick50
	default:
		return tick100
	}
}

// snapDown rounds price down to a multiple of the applicable tick.
func snapDown(exchange domain.Exchange, price decimal.Decimal) decimal.Decimal {
	tick := TickSize(exchange, price)
	return price.Div(tick).Floor().Mul(tick)
}

// snapUp rounds price up to a multiple of the applicable tick.
func snapUp(exchange domain.Exchange, price decimal.Decimal) decimal.Decimal {
	tick := TickSize(exchange, price)
	return price.Div(tick).Ceil().Mul(tick)
}

// Band is the legal daily price range derived from a reference price.
type Band struct {
	Reference decimal.Decimal
	Ceiling   decimal.Decimal
	Floor     decimal.Decimal
}

// ComputeBand derives the ceiling and floor from the reference
// (previous close). The raw ceiling snaps DOWN and the raw floor
// snaps UP: both ends must stay strictly inside the regulatory band.
func ComputeBand(exchange domain.Exchange, reference decimal.Decimal) (Band, error) {
	if !reference.IsPositive() {
		return Band{}, fmt.Errorf("price band: reference must be positive, got %s", reference)
	}

	pct := exchange.BandPct()
	if pct.IsZero() {
		return Band{}, fmt.Errorf("price band: unknown exchange %q", exchange)
	}

	one := decimal.NewFromInt(1)
	rawCeiling := reference.Mul(one.Add(pct))
	rawFloor := reference.Mul(one.Sub(pct))

	return Band{
		Reference: reference,
		Ceiling:   snapDown(exchange, rawCeiling),
		Floor:     snapUp(exchange, rawFloor),
	}, nil
}

// Contains reports whether price lies inside the band, inclusive.
func (b Band) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(b.Floor) && price.LessThanOrEqual(b.Ceiling)
}

// ValidatePrice checks an order price against the band and tick grid.
// The returned message is empty when the price is acceptable;
// misaligned prices include the nearest valid price as a suggestion.
func ValidatePrice(exchange domain.Exchange, price, reference decimal.Decimal) (string, error) {
	band, err := ComputeBand(exchange, reference)
	if err != nil {
		return "", err
	}

	if price.GreaterThan(band.Ceiling) {
		return fmt.Sprintf("price %s exceeds ceiling %s", price, band.Ceiling), nil
	}
	if price.LessThan(band.Floor) {
		return fmt.Sprintf("price %s below floor %s", price, band.Floor), nil
	}

	tick := TickSize(exchange, price)
	if !price.Mod(tick).IsZero() {
		nearest := nearestOnGrid(exchange, price, band)
		return fmt.Sprintf("price %s not aligned to tick size %s, nearest valid %s", price, tick, nearest), nil
	}
	return "", nil
}

// nearestOnGrid finds the closest tick-aligned price inside the band.
func nearestOnGrid(exchange domain.Exchange, price decimal.Decimal, band Band) decimal.Decimal {
	down := snapDown(exchange, price)
	up := snapUp(exchange, price)

	if down.LessThan(band.Floor) {
		return up
	}
	if up.GreaterThan(band.Ceiling) {
		return down
	}
	if price.Sub(down).LessThanOrEqual(up.Sub(price)) {
		return down
	}
	return up
}
