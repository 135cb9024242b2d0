package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a holding in one symbol as reported by the broker.
// SellableQuantity already accounts for T+ settlement: shares bought
// but not yet settled sit in the receiving buckets until they clear.
// Quantity always equals SellableQuantity + ReceivingT1 + ReceivingT2.
type Position struct {
	Symbol           Symbol   `json:"symbol"`
	Exchange         Exchange `json:"exchange"`
	Quantity         int64    `json:"quantity"`
	SellableQuantity int64    `json:"sellable_quantity"`
	// ReceivingT1 settles tomorrow, ReceivingT2 the day after.
	ReceivingT1 int64           `json:"receiving_t1"`
	ReceivingT2 int64           `json:"receiving_t2"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	MarketPrice decimal.Decimal `json:"market_price"`
}

// MarketValue is quantity at the last known market price.
func (p Position) MarketValue() decimal.Decimal {
	return p.MarketPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL is the open profit and loss of the position.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.MarketPrice.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}

// CashBalance is the account cash view from the broker. Buys are
// validated against PurchasingPower, withdrawals against Cash.
type CashBalance struct {
	Cash            decimal.Decimal `json:"cash"`
	PurchasingPower decimal.Decimal `json:"purchasing_power"`
	// PendingSettlement is cash from sells still waiting to settle.
	PendingSettlement decimal.Decimal `json:"pending_settlement"`
}

// PortfolioState is a point-in-time snapshot of the whole account.
// Snapshots are replaced wholesale on each broker sync; they are never
// patched incrementally, so a snapshot is always internally
// consistent.
type PortfolioState struct {
	Positions   map[Symbol]Position `json:"positions"`
	Cash        CashBalance         `json:"cash"`
	NAV         decimal.Decimal     `json:"nav"`
	RealizedPnL decimal.Decimal     `json:"realized_pnl"`
	AsOf        time.Time           `json:"as_of"`
}

// NewPortfolioState assembles a snapshot and derives NAV as cash plus
// the market value of all positions. Every position must account for
// all of its shares across the settlement pipeline; a mismatch means
// the broker payload was misread and the snapshot cannot be trusted.
func NewPortfolioState(positions []Position, cash CashBalance, realized decimal.Decimal, asOf time.Time) (PortfolioState, error) {
	bySymbol := make(map[Symbol]Position, len(positions))
	nav := cash.Cash
	for _, p := range positions {
		if settled := p.SellableQuantity + p.ReceivingT1 + p.ReceivingT2; settled != p.Quantity {
			return PortfolioState{}, fmt.Errorf(
				"position %s: quantity %d != sellable %d + receiving_t1 %d + receiving_t2 %d",
				p.Symbol, p.Quantity, p.SellableQuantity, p.ReceivingT1, p.ReceivingT2)
		}
		bySymbol[p.Symbol] = p
		nav = nav.Add(p.MarketValue())
	}
	return PortfolioState{
		Positions:   bySymbol,
		Cash:        cash,
		NAV:         nav,
		RealizedPnL: realized,
		AsOf:        asOf.UTC(),
	}, nil
}

// Position returns the holding for symbol, if any.
func (s PortfolioState) Position(symbol Symbol) (Position, bool) {
	p, ok := s.Positions[symbol]
	return p, ok
}

// ExposurePct is the fraction of NAV held in symbol.
func (s PortfolioState) ExposurePct(symbol Symbol) decimal.Decimal {
	if s.NAV.IsZero() {
		return decimal.Zero
	}
	p, ok := s.Positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return p.MarketValue().Div(s.NAV)
}

// RiskLimits are the account-level guardrails applied to every order.
type RiskLimits struct {
	// MaxPositionPct caps a single order's notional as a fraction of
	// NAV (e.g. 0.10 for 10%).
	MaxPositionPct decimal.Decimal `json:"max_position_pct"`
	// MaxConcentrationPct caps total exposure to one symbol as a
	// fraction of NAV before further buys are refused.
	MaxConcentrationPct decimal.Decimal `json:"max_concentration_pct"`
	// DailyLossLimitPct stops trading for the day once realized
	// losses cross this fraction of NAV. Zero disables the check.
	DailyLossLimitPct decimal.Decimal `json:"daily_loss_limit_pct"`
	// KillSwitch halts all order placement immediately.
	KillSwitch bool `json:"kill_switch"`
}
