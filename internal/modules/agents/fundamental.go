package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
)

const statementLookback = 4

// FundamentalAnalyzer enriches top candidates with an AI narrative,
// the early-warning distress score and a DuPont decomposition. The AI
// engine is optional flavor: its failure degrades to an empty insight,
// never to a failed run.
type FundamentalAnalyzer struct {
	ai  domain.AIEngine
	fin domain.FinancialData
	log zerolog.Logger
}

// NewFundamentalAnalyzer wires the node. ai may be nil.
func NewFundamentalAnalyzer(ai domain.AIEngine, fin domain.FinancialData, log zerolog.Logger) *FundamentalAnalyzer {
	return &FundamentalAnalyzer{
		ai:  ai,
		fin: fin,
		log: log.With().Str("component", "fundamental_agent").Logger(),
	}
}

// Name implements Node.
func (f *FundamentalAnalyzer) Name() string { return "fundamental" }

// Run analyzes every top candidate.
func (f *FundamentalAnalyzer) Run(ctx context.Context, state *AgentState) (StateUpdate, error) {
	insights := make(map[domain.Symbol]string, len(state.TopCandidates))
	warnings := make(map[domain.Symbol]EarlyWarningResult, len(state.TopCandidates))
	dupont := make(map[domain.Symbol]DuPontBreakdown, len(state.TopCandidates))

	for _, symbol := range state.TopCandidates {
		stmts, err := f.fin.Statements(ctx, symbol, statementLookback)
		if err != nil {
			f.log.Warn().Err(err).Str("symbol", symbol.String()).Msg("Statement fetch failed")
			stmts = nil
		}

		warning := ScoreEarlyWarning(symbol, stmts)
		warnings[symbol] = warning

		if len(stmts) > 0 {
			dupont[symbol] = decomposeROE(symbol, stmts[0])
		}

		insights[symbol] = f.narrative(ctx, symbol, stmts, warning)
	}

	f.log.Info().
		Int("candidates", len(state.TopCandidates)).
		Msg("Fundamental analysis complete")

	return StateUpdate{
		Phase:         PhaseAnalyzing,
		AIInsights:    insights,
		EarlyWarnings: warnings,
		DuPont:        dupont,
	}, nil
}

// narrative asks the AI engine for a qualitative read over the hard
// numbers already computed.
func (f *FundamentalAnalyzer) narrative(ctx context.Context, symbol domain.Symbol, stmts []domain.FinancialStatement, warning EarlyWarningResult) string {
	if f.ai == nil {
		return ""
	}

	facts := map[string]string{
		"early_warning_level": string(warning.Level),
		"early_warning_score": fmt.Sprintf("%d", warning.Score),
	}
	if len(stmts) > 0 {
		latest := stmts[0]
		facts["period"] = latest.Period
		facts["roe"] = fmt.Sprintf("%.4f", latest.ROE)
		facts["pe"] = fmt.Sprintf("%.2f", latest.PE)
		facts["pb"] = fmt.Sprintf("%.2f", latest.PB)
		facts["altman_z"] = fmt.Sprintf("%.2f", latest.AltmanZ)
		facts["piotroski_f"] = fmt.Sprintf("%d", latest.PiotroskiF)
		facts["debt_to_equity"] = fmt.Sprintf("%.2f", latest.DebtToEquity)
	}

	insight, err := f.ai.Analyze(ctx, symbol, facts)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol.String()).Msg("AI narrative failed, continuing without it")
		return ""
	}
	return insight
}

// decomposeROE is the extended five-factor DuPont split: ROE =
// tax burden x interest burden x operating margin x asset turnover x
// leverage.
func decomposeROE(symbol domain.Symbol, stmt domain.FinancialStatement) DuPontBreakdown {
	return DuPontBreakdown{
		Symbol:         symbol,
		TaxBurden:      stmt.TaxBurden,
		InterestBurden: stmt.InterestBurden,
		NetMargin:      stmt.NetMargin,
		AssetTurnover:  stmt.AssetTurnover,
		Leverage:       stmt.Leverage,
		ROE:            stmt.TaxBurden * stmt.InterestBurden * stmt.NetMargin * stmt.AssetTurnover * stmt.Leverage,
	}
}
