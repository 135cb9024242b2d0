package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hoangvu/vnquant/internal/domain"
)

func healthyStatement() domain.FinancialStatement {
	return domain.FinancialStatement{
		Symbol:            "FPT",
		Period:            "2026Q2",
		ROE:               0.22,
		AltmanZ:           4.1,
		PiotroskiF:        8,
		DebtToEquity:      0.6,
		OperatingCashFlow: 1_200,
		NetIncome:         1_000,
	}
}

func TestScoreEarlyWarningHealthyCompanyIsLow(t *testing.T) {
	result := ScoreEarlyWarning("FPT", []domain.FinancialStatement{healthyStatement()})

	assert.Equal(t, 0, result.Score)
	assert.Equal(t, WarningLow, result.Level)
	assert.Empty(t, result.Reasons)
}

func TestScoreEarlyWarningDistressedCompanyIsCritical(t *testing.T) {
	prev := healthyStatement()
	prev.ROE = 0.05
	prev.DebtToEquity = 1.8

	distressed := domain.FinancialStatement{
		Symbol:            "XYZ",
		ROE:               -0.08, // +15, and declining vs prior +10
		AltmanZ:           1.2,   // +25
		PiotroskiF:        2,     // +20
		DebtToEquity:      2.5,   // +10, and rising +10
		OperatingCashFlow: -500,  // +15
		NetIncome:         100,
	}

	result := ScoreEarlyWarning("XYZ", []domain.FinancialStatement{distressed, prev})

	assert.Equal(t, 100, result.Score, "score caps at 100")
	assert.Equal(t, WarningCritical, result.Level)
	assert.NotEmpty(t, result.Reasons)
}

func TestScoreEarlyWarningGreyZoneBands(t *testing.T) {
	stmt := healthyStatement()
	stmt.AltmanZ = 2.5  // grey zone +10
	stmt.PiotroskiF = 4 // below average +10
	stmt.ROE = 0.03     // below 5% +5

	result := ScoreEarlyWarning("ABC", []domain.FinancialStatement{stmt})

	assert.Equal(t, 25, result.Score)
	assert.Equal(t, WarningLow, result.Level)
	assert.Len(t, result.Reasons, 3)
}

func TestScoreEarlyWarningEarningsQuality(t *testing.T) {
	stmt := healthyStatement()
	stmt.OperatingCashFlow = 400 // trails net income of 1000

	result := ScoreEarlyWarning("DEF", []domain.FinancialStatement{stmt})
	assert.Equal(t, 10, result.Score)
}

func TestScoreEarlyWarningNoStatementsIsHigh(t *testing.T) {
	result := ScoreEarlyWarning("GHI", nil)

	assert.Equal(t, WarningHigh, result.Level)
	assert.Contains(t, result.Reasons[0], "no financial statements")
}

func TestWarningLevelThresholds(t *testing.T) {
	cases := []struct {
		score int
		want  EarlyWarningLevel
	}{
		{0, WarningLow}, {29, WarningLow},
		{30, WarningMedium}, {54, WarningMedium},
		{55, WarningHigh}, {74, WarningHigh},
		{75, WarningCritical}, {100, WarningCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, warningLevel(tc.score), "score %d", tc.score)
	}
}
