package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/modules/marketstore"
)

// Fundamental floor applied before any ranking.
const (
	screenerMinROE          = 0.08
	screenerMinCurrentRatio = 1.0
	screenerMaxDebtToEquity = 3.0
	volumeLookbackDays      = 20
)

// VolumeSource serves daily volume statistics for spike detection.
type VolumeSource interface {
	DailyVolumeStats(ctx context.Context, symbol domain.Symbol, days int) (marketstore.VolumeStats, error)
}

// Screener builds the run watchlist: the fundamentally sound slice of
// the universe, ranked by unusual volume activity.
type Screener struct {
	fin    domain.FinancialData
	volume VolumeSource
	log    zerolog.Logger
}

// NewScreener wires the node.
func NewScreener(fin domain.FinancialData, volume VolumeSource, log zerolog.Logger) *Screener {
	return &Screener{
		fin:    fin,
		volume: volume,
		log:    log.With().Str("component", "screener_agent").Logger(),
	}
}

// Name implements Node.
func (s *Screener) Name() string { return "screener" }

type screenEntry struct {
	symbol      domain.Symbol
	roe         float64
	spikeFactor float64
	isSpike     bool
}

// Run screens the universe down to at most max_candidates symbols.
// A pinned config watchlist replaces the universe entirely: those
// symbols go straight to volume ranking without the fundamental floor.
func (s *Screener) Run(ctx context.Context, state *AgentState) (StateUpdate, error) {
	if len(state.Config.Watchlist) > 0 {
		return s.runPinned(ctx, state)
	}

	universe, err := s.fin.Universe(ctx)
	if err != nil {
		return StateUpdate{}, fmt.Errorf("screener: universe: %w", err)
	}

	var entries []screenEntry
	for _, symbol := range universe {
		stmts, err := s.fin.Statements(ctx, symbol, 1)
		if err != nil || len(stmts) == 0 {
			s.log.Debug().Str("symbol", symbol.String()).Msg("No fundamentals, excluded from screen")
			continue
		}
		latest := stmts[0]
		if latest.ROE < screenerMinROE ||
			latest.CurrentRatio < screenerMinCurrentRatio ||
			latest.DebtToEquity > screenerMaxDebtToEquity {
			continue
		}

		entry := screenEntry{symbol: symbol, roe: latest.ROE}
		// Volume stats are a ranking boost, not a filter; missing tick
		// history must not exclude a sound company.
		if stats, err := s.volume.DailyVolumeStats(ctx, symbol, volumeLookbackDays); err == nil {
			entry.spikeFactor = stats.SpikeFactor
			entry.isSpike = stats.IsSpike
		}
		entries = append(entries, entry)
	}

	// Spiking names first, then by activity, then by profitability.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].isSpike != entries[j].isSpike {
			return entries[i].isSpike
		}
		if entries[i].spikeFactor != entries[j].spikeFactor {
			return entries[i].spikeFactor > entries[j].spikeFactor
		}
		return entries[i].roe > entries[j].roe
	})

	if len(entries) > state.Config.MaxCandidates {
		entries = entries[:state.Config.MaxCandidates]
	}

	watchlist := make([]domain.Symbol, len(entries))
	for i, e := range entries {
		watchlist[i] = e.symbol
	}

	s.log.Info().
		Int("universe", len(universe)).
		Int("watchlist", len(watchlist)).
		Msg("Screening complete")

	return StateUpdate{Phase: PhaseScreening, Watchlist: watchlist}, nil
}

// runPinned ranks the operator-pinned symbols by volume activity and
// caps the result. Fundamentals are not consulted.
func (s *Screener) runPinned(ctx context.Context, state *AgentState) (StateUpdate, error) {
	entries := make([]screenEntry, 0, len(state.Config.Watchlist))
	for _, symbol := range state.Config.Watchlist {
		entry := screenEntry{symbol: symbol}
		if stats, err := s.volume.DailyVolumeStats(ctx, symbol, volumeLookbackDays); err == nil {
			entry.spikeFactor = stats.SpikeFactor
			entry.isSpike = stats.IsSpike
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].isSpike != entries[j].isSpike {
			return entries[i].isSpike
		}
		return entries[i].spikeFactor > entries[j].spikeFactor
	})

	if len(entries) > state.Config.MaxCandidates {
		entries = entries[:state.Config.MaxCandidates]
	}

	watchlist := make([]domain.Symbol, len(entries))
	for i, e := range entries {
		watchlist[i] = e.symbol
	}

	s.log.Info().
		Int("pinned", len(state.Config.Watchlist)).
		Int("watchlist", len(watchlist)).
		Msg("Screening pinned watchlist")

	return StateUpdate{Phase: PhaseScreening, Watchlist: watchlist}, nil
}
