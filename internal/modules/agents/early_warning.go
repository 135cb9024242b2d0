package agents

import (
	"fmt"

	"github.com/hoangvu/vnquant/internal/domain"
)

// Early-warning level thresholds on the 0-100 distress score.
const (
	warningMediumFloor   = 30
	warningHighFloor     = 55
	warningCriticalFloor = 75
)

// ScoreEarlyWarning rates financial distress from recent statements,
// newest first. Higher is worse; each trigger adds to the score with
// a recorded reason. An empty statement history scores high: flying
// blind on fundamentals is itself a risk signal.
func ScoreEarlyWarning(symbol domain.Symbol, stmts []domain.FinancialStatement) EarlyWarningResult {
	if len(stmts) == 0 {
		return EarlyWarningResult{
			Symbol:  symbol,
			Score:   warningHighFloor,
			Level:   WarningHigh,
			Reasons: []string{"no financial statements available"},
		}
	}

	latest := stmts[0]
	score := 0
	var reasons []string
	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	// Altman Z-Score distress zones.
	switch {
	case latest.AltmanZ < 1.81:
		add(25, fmt.Sprintf("Altman Z %.2f in distress zone", latest.AltmanZ))
	case latest.AltmanZ < 2.99:
		add(10, fmt.Sprintf("Altman Z %.2f in grey zone", latest.AltmanZ))
	}

	// Piotroski F-Score weakness.
	switch {
	case latest.PiotroskiF <= 2:
		add(20, fmt.Sprintf("Piotroski F %d signals weak fundamentals", latest.PiotroskiF))
	case latest.PiotroskiF <= 4:
		add(10, fmt.Sprintf("Piotroski F %d below average", latest.PiotroskiF))
	}

	// Profitability level and trend.
	switch {
	case latest.ROE < 0:
		add(15, fmt.Sprintf("negative ROE %.1f%%", latest.ROE*100))
	case latest.ROE < 0.05:
		add(5, fmt.Sprintf("ROE %.1f%% below 5%%", latest.ROE*100))
	}
	if len(stmts) > 1 && latest.ROE < stmts[1].ROE {
		add(10, "ROE declining versus prior period")
	}

	// Leverage level and trend.
	if latest.DebtToEquity > 2 {
		add(10, fmt.Sprintf("debt-to-equity %.2f above 2.0", latest.DebtToEquity))
	}
	if len(stmts) > 1 && latest.DebtToEquity > stmts[1].DebtToEquity {
		add(10, "debt-to-equity rising versus prior period")
	}

	// Earnings quality: profits not backed by operating cash flow.
	switch {
	case latest.OperatingCashFlow < 0:
		add(15, "negative operating cash flow")
	case latest.NetIncome > 0 && latest.OperatingCashFlow < latest.NetIncome:
		add(10, "operating cash flow trails net income")
	}

	if score > 100 {
		score = 100
	}

	return EarlyWarningResult{
		Symbol:  symbol,
		Score:   score,
		Level:   warningLevel(score),
		Reasons: reasons,
	}
}

func warningLevel(score int) EarlyWarningLevel {
	switch {
	case score < warningMediumFloor:
		return WarningLow
	case score < warningHighFloor:
		return WarningMedium
	case score < warningCriticalFloor:
		return WarningHigh
	default:
		return WarningCritical
	}
}
