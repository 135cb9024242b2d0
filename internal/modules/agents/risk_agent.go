package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/modules/trading"
)

// defaultMaxConcentration caps existing exposure to one symbol before
// further buys are refused, used when the account limits leave it
// unset.
var defaultMaxConcentration = decimal.NewFromFloat(0.30)

// MarketView is the slice of the tick store the risk agent needs.
type MarketView interface {
	LatestPrice(ctx context.Context, symbol domain.Symbol) (decimal.Decimal, time.Time, error)
	LatestExchange(ctx context.Context, symbol domain.Symbol) (domain.Exchange, error)
}

// RiskAgent turns top candidates into sized, vetted trade intents.
// Sizing always uses the latest market price from the tick store,
// never a price carried in from an upstream node.
type RiskAgent struct {
	market MarketView
	limits trading.LimitsProvider
	log    zerolog.Logger
}

// NewRiskAgent wires the node.
func NewRiskAgent(market MarketView, limits trading.LimitsProvider, log zerolog.Logger) *RiskAgent {
	return &RiskAgent{
		market: market,
		limits: limits,
		log:    log.With().Str("component", "risk_agent").Logger(),
	}
}

// Name implements Node.
func (r *RiskAgent) Name() string { return "risk" }

// Run assesses every top candidate. Rejections are recorded, never
// silently dropped: the snapshot must show why a candidate died here.
func (r *RiskAgent) Run(ctx context.Context, state *AgentState) (StateUpdate, error) {
	limits := r.limits.Limits()
	assessments := make(map[domain.Symbol]RiskAssessment, len(state.TopCandidates))
	var approved []RiskAssessment

	for _, symbol := range state.TopCandidates {
		a := r.assess(ctx, state, limits, symbol)
		assessments[symbol] = a
		if a.Approved {
			approved = append(approved, a)
		} else {
			r.log.Info().
				Str("symbol", symbol.String()).
				Str("action", string(a.Action)).
				Str("reason", a.Reason).
				Msg("Candidate rejected by risk agent")
		}
	}

	r.log.Info().
		Int("assessed", len(assessments)).
		Int("approved", len(approved)).
		Msg("Risk assessment complete")

	return StateUpdate{
		Phase:           PhaseRiskChecking,
		RiskAssessments: assessments,
		ApprovedTrades:  approved,
	}, nil
}

func (r *RiskAgent) assess(ctx context.Context, state *AgentState, limits domain.RiskLimits, symbol domain.Symbol) RiskAssessment {
	action := ActionSkip
	if score, ok := state.TechnicalScores[symbol]; ok {
		action = score.Action
	}
	a := RiskAssessment{Symbol: symbol, Action: action}

	if action != ActionBuy && action != ActionSell {
		a.Reason = fmt.Sprintf("no actionable signal (%s)", action)
		return a
	}
	if limits.KillSwitch {
		a.Reason = "kill switch active"
		return a
	}
	if warning, ok := state.EarlyWarnings[symbol]; ok && warning.Level == WarningCritical {
		a.Reason = fmt.Sprintf("early warning critical (score %d)", warning.Score)
		return a
	}

	price, _, err := r.market.LatestPrice(ctx, symbol)
	if err != nil {
		a.Reason = fmt.Sprintf("no market price: %v", err)
		return a
	}
	a.LatestPrice = price

	a.Exchange = r.venue(ctx, state, symbol)

	switch action {
	case ActionBuy:
		return r.assessBuy(state, limits, a)
	default:
		return r.assessSell(state, a)
	}
}

// venue prefers the held position's exchange over the tick store.
func (r *RiskAgent) venue(ctx context.Context, state *AgentState, symbol domain.Symbol) domain.Exchange {
	if pos, ok := state.Portfolio.Position(symbol); ok {
		return pos.Exchange
	}
	if exch, err := r.market.LatestExchange(ctx, symbol); err == nil {
		return exch
	}
	return domain.ExchangeHOSE
}

func (r *RiskAgent) assessBuy(state *AgentState, limits domain.RiskLimits, a RiskAssessment) RiskAssessment {
	maxConcentration := limits.MaxConcentrationPct
	if maxConcentration.IsZero() {
		maxConcentration = defaultMaxConcentration
	}
	if exposure := state.Portfolio.ExposurePct(a.Symbol); exposure.GreaterThan(maxConcentration) {
		a.Reason = fmt.Sprintf("concentration %s exceeds cap %s",
			exposure.StringFixed(4), maxConcentration.StringFixed(4))
		return a
	}

	budget := state.Portfolio.NAV.Mul(limits.MaxPositionPct)
	if power := state.Portfolio.Cash.PurchasingPower; power.LessThan(budget) {
		budget = power
	}
	if a.LatestPrice.IsZero() {
		a.Reason = "latest price is zero"
		return a
	}

	qty := domain.RoundToLot(budget.Div(a.LatestPrice).IntPart())
	if qty == 0 {
		a.Reason = "budget below one board lot"
		return a
	}

	stopPct := decimal.NewFromFloat(1 - state.Config.StopLossPct)
	takePct := decimal.NewFromFloat(1 + state.Config.TakeProfitPct)

	a.Quantity = qty
	a.StopLoss = a.LatestPrice.Mul(stopPct).Round(0)
	a.TakeProfit = a.LatestPrice.Mul(takePct).Round(0)
	a.Approved = true
	return a
}

func (r *RiskAgent) assessSell(state *AgentState, a RiskAssessment) RiskAssessment {
	pos, ok := state.Portfolio.Position(a.Symbol)
	if !ok {
		a.Reason = "no position to sell"
		return a
	}

	qty := domain.RoundToLot(pos.SellableQuantity)
	if qty == 0 {
		a.Reason = "nothing sellable yet (settlement pending)"
		return a
	}

	a.Quantity = qty
	a.Approved = true
	return a
}
