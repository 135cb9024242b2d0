package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
)

// CheckName identifies one pre-trade control.
type CheckName string

const (
	CheckKillSwitch   CheckName = "KILL_SWITCH"
	CheckPriceBand    CheckName = "PRICE_BAND"
	CheckLotSize      CheckName = "LOT_SIZE"
	CheckPositionSize CheckName = "POSITION_SIZE"
	CheckBuyingPower  CheckName = "BUYING_POWER"
	CheckSellableQty  CheckName = "SELLABLE_QTY"
	CheckDailyLoss    CheckName = "DAILY_LOSS_LIMIT"
)

// Violation is one failed control with a human-readable reason.
type Violation struct {
	Check  CheckName `json:"check"`
	Reason string    `json:"reason"`
}

// ValidationResult is the outcome of the full control set. When the
// order fails, Violations lists every failed check, not just the
// first, so the operator sees the complete picture in one pass.
type ValidationResult struct {
	Approved   bool        `json:"approved"`
	Violations []Violation `json:"violations,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Approved {
		return "approved"
	}
	s := "rejected:"
	for _, v := range r.Violations {
		s += fmt.Sprintf(" [%s] %s", v.Check, v.Reason)
	}
	return s
}

// OrderCheckRequest carries everything the validator needs about the
// order itself.
type OrderCheckRequest struct {
	Symbol         domain.Symbol
	Exchange       domain.Exchange
	Side           domain.Side
	Quantity       int64
	Price          decimal.Decimal
	ReferencePrice decimal.Decimal // previous close for band math
}

// AccountContext carries the account-level inputs.
type AccountContext struct {
	Portfolio       domain.PortfolioState
	Limits          domain.RiskLimits
	PendingSellQty  int64 // open SELL quantity already working for this symbol
}

// ValidateOrder runs the complete pre-trade control set.
//
// KILL_SWITCH is the only short-circuit: when active, nothing else is
// evaluated. Every other control runs regardless of earlier failures
// and all violations are collected.
func ValidateOrder(req OrderCheckRequest, acct AccountContext) ValidationResult {
	if acct.Limits.KillSwitch {
		return ValidationResult{Violations: []Violation{
			{Check: CheckKillSwitch, Reason: "kill switch is active, all trading halted"},
		}}
	}

	var violations []Violation
	add := func(check CheckName, reason string) {
		violations = append(violations, Violation{Check: check, Reason: reason})
	}

	// PRICE_BAND
	if msg, err := ValidatePrice(req.Exchange, req.Price, req.ReferencePrice); err != nil {
		add(CheckPriceBand, err.Error())
	} else if msg != "" {
		add(CheckPriceBand, msg)
	}

	// LOT_SIZE
	if !domain.IsLotAligned(req.Quantity) {
		add(CheckLotSize, fmt.Sprintf("quantity %d is not a multiple of %d", req.Quantity, domain.LotSize))
	}

	orderValue := req.Price.Mul(decimal.NewFromInt(req.Quantity))
	nav := acct.Portfolio.NAV

	// POSITION_SIZE
	if acct.Limits.MaxPositionPct.IsPositive() && nav.IsPositive() {
		pct := orderValue.Div(nav)
		if pct.GreaterThan(acct.Limits.MaxPositionPct) {
			add(CheckPositionSize, fmt.Sprintf(
				"order value %s is %s of NAV, limit %s",
				orderValue, pct.Round(4), acct.Limits.MaxPositionPct))
		}
	}

	switch req.Side {
	case domain.SideBuy:
		// BUYING_POWER
		if orderValue.GreaterThan(acct.Portfolio.Cash.PurchasingPower) {
			add(CheckBuyingPower, fmt.Sprintf(
				"order value %s exceeds purchasing power %s",
				orderValue, acct.Portfolio.Cash.PurchasingPower))
		}
	case domain.SideSell:
		// SELLABLE_QTY accounts for T+ settlement and sells already
		// working at the venue.
		var sellable int64
		if pos, ok := acct.Portfolio.Position(req.Symbol); ok {
			sellable = pos.SellableQuantity
		}
		available := sellable - acct.PendingSellQty
		if req.Quantity > available {
			add(CheckSellableQty, fmt.Sprintf(
				"quantity %d exceeds available %d (sellable %d, pending sells %d)",
				req.Quantity, available, sellable, acct.PendingSellQty))
		}
	}

	// DAILY_LOSS_LIMIT
	if acct.Limits.DailyLossLimitPct.IsPositive() && nav.IsPositive() {
		maxLoss := nav.Mul(acct.Limits.DailyLossLimitPct).Neg()
		if acct.Portfolio.RealizedPnL.LessThanOrEqual(maxLoss) {
			add(CheckDailyLoss, fmt.Sprintf(
				"realized pnl %s breaches daily loss limit %s",
				acct.Portfolio.RealizedPnL, maxLoss))
		}
	}

	return ValidationResult{Approved: len(violations) == 0, Violations: violations}
}
