package agents

import (
	"context"
	"time"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
)

const (
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	bbPeriod      = 20
	bbStdDev      = 2.0
	smaShort      = 50
	smaLong       = 200
	historyDays   = 300
	minBars       = macdSlow + macdSignal // fewest bars that yield a MACD signal
	buyThreshold  = 5.0
	sellThreshold = -5.0
)

// TechnicalAnalyzer scores watchlisted symbols from daily candles.
type TechnicalAnalyzer struct {
	ticks domain.TickStore
	log   zerolog.Logger
}

// NewTechnicalAnalyzer wires the node.
func NewTechnicalAnalyzer(ticks domain.TickStore, log zerolog.Logger) *TechnicalAnalyzer {
	return &TechnicalAnalyzer{
		ticks: ticks,
		log:   log.With().Str("component", "technical_agent").Logger(),
	}
}

// Name implements Node.
func (t *TechnicalAnalyzer) Name() string { return "technical" }

// Run computes the composite score for each watchlisted symbol and
// selects top candidates whose absolute score clears the threshold.
func (t *TechnicalAnalyzer) Run(ctx context.Context, state *AgentState) (StateUpdate, error) {
	scores := make(map[domain.Symbol]TechnicalScore, len(state.Watchlist))
	var top []domain.Symbol

	now := time.Now()
	from := now.AddDate(0, 0, -historyDays)

	for _, symbol := range state.Watchlist {
		candles, err := t.ticks.Candles(ctx, symbol, 24*time.Hour, from, now)
		if err != nil {
			t.log.Warn().Err(err).Str("symbol", symbol.String()).Msg("Candle fetch failed, skipping symbol")
			scores[symbol] = TechnicalScore{Symbol: symbol, Action: ActionSkip}
			continue
		}

		score := t.score(symbol, candles)
		scores[symbol] = score
		if score.Action != ActionSkip && abs(score.Score) >= state.Config.ScoreThreshold {
			top = append(top, symbol)
		}

		t.log.Debug().
			Str("symbol", symbol.String()).
			Float64("score", score.Score).
			Str("action", string(score.Action)).
			Msg("Technical score computed")
	}

	t.log.Info().
		Int("scored", len(scores)).
		Int("top_candidates", len(top)).
		Msg("Technical analysis complete")

	return StateUpdate{
		Phase:           PhaseAnalyzing,
		TechnicalScores: scores,
		TopCandidates:   top,
	}, nil
}

// score aggregates the indicator signals into [-10, +10].
func (t *TechnicalAnalyzer) score(symbol domain.Symbol, candles []domain.Candle) TechnicalScore {
	if len(candles) < minBars {
		return TechnicalScore{Symbol: symbol, Action: ActionSkip,
			Signals: map[string]float64{"bars": float64(len(candles))}}
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}
	last := len(closes) - 1
	signals := make(map[string]float64)

	// RSI-14: oversold buys, overbought sells.
	rsi := talib.Rsi(closes, rsiPeriod)
	switch r := rsi[last]; {
	case r < 30:
		signals["rsi"] = 3
	case r < 40:
		signals["rsi"] = 1.5
	case r > 70:
		signals["rsi"] = -3
	case r > 60:
		signals["rsi"] = -1.5
	}

	// MACD(12/26/9) line crossing its signal line.
	macd, signal, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	if last > 0 {
		above, wasAbove := macd[last] > signal[last], macd[last-1] > signal[last-1]
		if above && !wasAbove {
			signals["macd"] = 3
		} else if !above && wasAbove {
			signals["macd"] = -3
		}
	}

	// Bollinger(20, 2) band touches.
	upper, _, lower := talib.BBands(closes, bbPeriod, bbStdDev, bbStdDev, 0)
	if closes[last] <= lower[last] {
		signals["bollinger"] = 2
	} else if closes[last] >= upper[last] {
		signals["bollinger"] = -2
	}

	// SMA-50 vs SMA-200 cross, only when enough history exists.
	if len(closes) >= smaLong+1 {
		sma50 := talib.Sma(closes, smaShort)
		sma200 := talib.Sma(closes, smaLong)
		above, wasAbove := sma50[last] > sma200[last], sma50[last-1] > sma200[last-1]
		if above && !wasAbove {
			signals["sma_cross"] = 2
		} else if !above && wasAbove {
			signals["sma_cross"] = -2
		}
	}

	total := 0.0
	for _, v := range signals {
		total += v
	}
	total = clamp(total, -10, 10)

	return TechnicalScore{
		Symbol:  symbol,
		Score:   total,
		Action:  actionFor(total),
		Signals: signals,
	}
}

func actionFor(score float64) Action {
	switch {
	case score >= buyThreshold:
		return ActionBuy
	case score <= sellThreshold:
		return ActionSell
	default:
		return ActionHold
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
