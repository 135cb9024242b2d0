package agents

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/modules/marketstore"
)

func statement(symbol domain.Symbol, roe, currentRatio, debtToEquity float64) []domain.FinancialStatement {
	return []domain.FinancialStatement{{
		Symbol:       symbol,
		ROE:          roe,
		CurrentRatio: currentRatio,
		DebtToEquity: debtToEquity,
		AltmanZ:      3.5,
		PiotroskiF:   7,
	}}
}

func TestScreenerFiltersWeakFundamentals(t *testing.T) {
	fin := &fakeFinancials{
		universe: []domain.Symbol{"FPT", "WEAK", "ILLIQ", "LEVERED", "NODATA"},
		statements: map[domain.Symbol][]domain.FinancialStatement{
			"FPT":     statement("FPT", 0.20, 1.5, 0.8),
			"WEAK":    statement("WEAK", 0.02, 1.5, 0.8),   // ROE below floor
			"ILLIQ":   statement("ILLIQ", 0.20, 0.7, 0.8),  // current ratio below floor
			"LEVERED": statement("LEVERED", 0.20, 1.5, 4.0), // debt above cap
		},
	}
	screener := NewScreener(fin, &fakeVolume{}, zerolog.Nop())

	state := AgentState{Config: RunConfig{MaxCandidates: 10}.Defaults()}
	update, err := screener.Run(context.Background(), &state)
	require.NoError(t, err)

	assert.Equal(t, PhaseScreening, update.Phase)
	assert.Equal(t, []domain.Symbol{"FPT"}, update.Watchlist)
}

func TestScreenerRanksVolumeSpikesFirst(t *testing.T) {
	fin := &fakeFinancials{
		universe: []domain.Symbol{"AAA", "BBB", "CCC"},
		statements: map[domain.Symbol][]domain.FinancialStatement{
			"AAA": statement("AAA", 0.30, 2, 0.5), // best ROE, no spike
			"BBB": statement("BBB", 0.10, 2, 0.5), // spiking
			"CCC": statement("CCC", 0.15, 2, 0.5),
		},
	}
	volume := &fakeVolume{stats: map[domain.Symbol]marketstore.VolumeStats{
		"BBB": {Symbol: "BBB", SpikeFactor: 6.0, IsSpike: true},
		"CCC": {Symbol: "CCC", SpikeFactor: 1.1},
	}}
	screener := NewScreener(fin, volume, zerolog.Nop())

	state := AgentState{Config: RunConfig{MaxCandidates: 10}.Defaults()}
	update, err := screener.Run(context.Background(), &state)
	require.NoError(t, err)

	assert.Equal(t, []domain.Symbol{"BBB", "CCC", "AAA"}, update.Watchlist)
}

func TestScreenerCapsAtMaxCandidates(t *testing.T) {
	fin := &fakeFinancials{
		universe: []domain.Symbol{"AAA", "BBB", "CCC", "DDD"},
		statements: map[domain.Symbol][]domain.FinancialStatement{
			"AAA": statement("AAA", 0.30, 2, 0.5),
			"BBB": statement("BBB", 0.25, 2, 0.5),
			"CCC": statement("CCC", 0.20, 2, 0.5),
			"DDD": statement("DDD", 0.15, 2, 0.5),
		},
	}
	screener := NewScreener(fin, &fakeVolume{}, zerolog.Nop())

	state := AgentState{Config: RunConfig{MaxCandidates: 2}}
	update, err := screener.Run(context.Background(), &state)
	require.NoError(t, err)

	assert.Len(t, update.Watchlist, 2)
	assert.Equal(t, []domain.Symbol{"AAA", "BBB"}, update.Watchlist, "ranked by ROE when no spikes")
}

func TestScreenerPinnedWatchlistBypassesFundamentals(t *testing.T) {
	// No fundamentals at all: the universe is empty and every symbol
	// would fail the statements lookup. Pinned symbols must still make
	// it through, volume spikes first.
	fin := &fakeFinancials{}
	volume := &fakeVolume{stats: map[domain.Symbol]marketstore.VolumeStats{
		"HPG": {Symbol: "HPG", SpikeFactor: 4.2, IsSpike: true},
		"FPT": {Symbol: "FPT", SpikeFactor: 1.3},
	}}
	screener := NewScreener(fin, volume, zerolog.Nop())

	state := AgentState{Config: RunConfig{
		Watchlist: []domain.Symbol{"FPT", "HPG", "VNM"},
	}.Defaults()}
	update, err := screener.Run(context.Background(), &state)
	require.NoError(t, err)

	assert.Equal(t, PhaseScreening, update.Phase)
	assert.Equal(t, []domain.Symbol{"HPG", "FPT", "VNM"}, update.Watchlist)
}

func TestScreenerPinnedWatchlistRespectsCap(t *testing.T) {
	volume := &fakeVolume{stats: map[domain.Symbol]marketstore.VolumeStats{
		"BBB": {Symbol: "BBB", SpikeFactor: 3.0, IsSpike: true},
	}}
	screener := NewScreener(&fakeFinancials{}, volume, zerolog.Nop())

	state := AgentState{Config: RunConfig{
		MaxCandidates: 1,
		Watchlist:     []domain.Symbol{"AAA", "BBB", "CCC"},
	}}
	update, err := screener.Run(context.Background(), &state)
	require.NoError(t, err)

	assert.Equal(t, []domain.Symbol{"BBB"}, update.Watchlist)
}

func TestScreenerEmptyUniverseYieldsEmptyWatchlist(t *testing.T) {
	screener := NewScreener(&fakeFinancials{}, &fakeVolume{}, zerolog.Nop())

	state := AgentState{Config: RunConfig{}.Defaults()}
	update, err := screener.Run(context.Background(), &state)
	require.NoError(t, err)
	assert.Empty(t, update.Watchlist)
}
