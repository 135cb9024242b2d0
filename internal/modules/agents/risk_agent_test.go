package agents

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/domain"
)

func riskState(symbol domain.Symbol, action Action, portfolio domain.PortfolioState) *AgentState {
	return &AgentState{
		RunID:         "run-1",
		Portfolio:     portfolio,
		TopCandidates: []domain.Symbol{symbol},
		TechnicalScores: map[domain.Symbol]TechnicalScore{
			symbol: {Symbol: symbol, Score: 6, Action: action},
		},
		EarlyWarnings: map[domain.Symbol]EarlyWarningResult{},
		Config:        RunConfig{}.Defaults(),
	}
}

func fptMarket() *fakeMarket {
	return &fakeMarket{
		prices:    map[domain.Symbol]decimal.Decimal{"FPT": decimal.NewFromInt(92500)},
		exchanges: map[domain.Symbol]domain.Exchange{"FPT": domain.ExchangeHOSE},
	}
}

func TestRiskAgentApprovesAndSizesBuy(t *testing.T) {
	agent := NewRiskAgent(fptMarket(), permissiveLimits(), zerolog.Nop())

	// NAV 500M, 10% cap -> 50M budget; 50M / 92,500 = 540 -> lot 500.
	state := riskState("FPT", ActionBuy, accountWithCash(500_000_000))
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, update.ApprovedTrades, 1)
	a := update.ApprovedTrades[0]
	assert.True(t, a.Approved)
	assert.EqualValues(t, 500, a.Quantity)
	assert.True(t, a.LatestPrice.Equal(decimal.NewFromInt(92500)))
	assert.Equal(t, domain.ExchangeHOSE, a.Exchange)
	// 5% stop, 15% take on the latest price.
	assert.True(t, a.StopLoss.Equal(decimal.NewFromInt(87875)), "stop=%s", a.StopLoss)
	assert.True(t, a.TakeProfit.Equal(decimal.NewFromInt(106375)), "take=%s", a.TakeProfit)
	assert.Equal(t, PhaseRiskChecking, update.Phase)
}

func TestRiskAgentSizingCappedByPurchasingPower(t *testing.T) {
	agent := NewRiskAgent(fptMarket(), permissiveLimits(), zerolog.Nop())

	// NAV is large but purchasing power is only 20M: 20M / 92,500 = 216 -> 200.
	portfolio, err := domain.NewPortfolioState(
		[]domain.Position{{
			Symbol: "VNM", Exchange: domain.ExchangeHOSE, Quantity: 10_000,
			SellableQuantity: 10_000,
			AvgCost:          decimal.NewFromInt(60000),
			MarketPrice:      decimal.NewFromInt(60000),
		}},
		domain.CashBalance{Cash: decimal.NewFromInt(20_000_000), PurchasingPower: decimal.NewFromInt(20_000_000)},
		decimal.Zero, time.Now())
	require.NoError(t, err)

	state := riskState("FPT", ActionBuy, portfolio)
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, update.ApprovedTrades, 1)
	assert.EqualValues(t, 200, update.ApprovedTrades[0].Quantity)
}

func TestRiskAgentKillSwitchVetoesEverything(t *testing.T) {
	limits := staticLimits{limits: domain.RiskLimits{
		MaxPositionPct: decimal.NewFromFloat(0.10),
		KillSwitch:     true,
	}}
	agent := NewRiskAgent(fptMarket(), limits, zerolog.Nop())

	state := riskState("FPT", ActionBuy, accountWithCash(500_000_000))
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Empty(t, update.ApprovedTrades)
	assert.Contains(t, update.RiskAssessments[domain.Symbol("FPT")].Reason, "kill switch")
}

func TestRiskAgentCriticalEarlyWarningIsHardVeto(t *testing.T) {
	agent := NewRiskAgent(fptMarket(), permissiveLimits(), zerolog.Nop())

	state := riskState("FPT", ActionBuy, accountWithCash(500_000_000))
	state.EarlyWarnings["FPT"] = EarlyWarningResult{Symbol: "FPT", Score: 80, Level: WarningCritical}

	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Empty(t, update.ApprovedTrades)
	assert.Contains(t, update.RiskAssessments[domain.Symbol("FPT")].Reason, "early warning critical")
}

func TestRiskAgentRejectsConcentratedBuy(t *testing.T) {
	agent := NewRiskAgent(fptMarket(), permissiveLimits(), zerolog.Nop())

	// FPT position is ~48% of NAV, far over the 30% cap.
	portfolio, err := domain.NewPortfolioState(
		[]domain.Position{{
			Symbol: "FPT", Exchange: domain.ExchangeHOSE, Quantity: 1000,
			SellableQuantity: 1000,
			AvgCost:          decimal.NewFromInt(90000),
			MarketPrice:      decimal.NewFromInt(92500),
		}},
		domain.CashBalance{Cash: decimal.NewFromInt(100_000_000), PurchasingPower: decimal.NewFromInt(100_000_000)},
		decimal.Zero, time.Now())
	require.NoError(t, err)

	state := riskState("FPT", ActionBuy, portfolio)
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Empty(t, update.ApprovedTrades)
	assert.Contains(t, update.RiskAssessments[domain.Symbol("FPT")].Reason, "concentration")
}

func TestRiskAgentRejectsBudgetBelowOneLot(t *testing.T) {
	agent := NewRiskAgent(fptMarket(), permissiveLimits(), zerolog.Nop())

	// 10% of 5M = 500k budget; one lot costs 9.25M.
	state := riskState("FPT", ActionBuy, accountWithCash(5_000_000))
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Empty(t, update.ApprovedTrades)
	assert.Contains(t, update.RiskAssessments[domain.Symbol("FPT")].Reason, "below one board lot")
}

func TestRiskAgentSellUsesSellableQuantity(t *testing.T) {
	agent := NewRiskAgent(fptMarket(), permissiveLimits(), zerolog.Nop())

	portfolio, err := domain.NewPortfolioState(
		[]domain.Position{{
			Symbol: "FPT", Exchange: domain.ExchangeHNX, Quantity: 1000,
			SellableQuantity: 750, // 250 still settling
			ReceivingT1:      100,
			ReceivingT2:      150,
			AvgCost:          decimal.NewFromInt(90000),
			MarketPrice:      decimal.NewFromInt(92500),
		}},
		domain.CashBalance{Cash: decimal.NewFromInt(10_000_000), PurchasingPower: decimal.NewFromInt(10_000_000)},
		decimal.Zero, time.Now())
	require.NoError(t, err)

	state := riskState("FPT", ActionSell, portfolio)
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, update.ApprovedTrades, 1)
	a := update.ApprovedTrades[0]
	assert.EqualValues(t, 700, a.Quantity, "sellable rounds down to a board lot")
	assert.Equal(t, domain.ExchangeHNX, a.Exchange, "venue comes from the held position")
}

func TestRiskAgentRejectsSellWithoutPosition(t *testing.T) {
	agent := NewRiskAgent(fptMarket(), permissiveLimits(), zerolog.Nop())

	state := riskState("FPT", ActionSell, accountWithCash(100_000_000))
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Empty(t, update.ApprovedTrades)
	assert.Contains(t, update.RiskAssessments[domain.Symbol("FPT")].Reason, "no position")
}

func TestRiskAgentRejectsWithoutMarketData(t *testing.T) {
	agent := NewRiskAgent(&fakeMarket{}, permissiveLimits(), zerolog.Nop())

	state := riskState("FPT", ActionBuy, accountWithCash(500_000_000))
	update, err := agent.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Empty(t, update.ApprovedTrades)
	assert.Contains(t, update.RiskAssessments[domain.Symbol("FPT")].Reason, "no market price")
}
