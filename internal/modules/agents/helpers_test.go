package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/modules/marketstore"
	"github.com/hoangvu/vnquant/internal/modules/trading"
)

func openTradingDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "trading.db"),
		Profile: database.ProfileLedger,
		Name:    "trading",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeFinancials serves canned statements per symbol.
type fakeFinancials struct {
	universe   []domain.Symbol
	statements map[domain.Symbol][]domain.FinancialStatement
	err        error
}

func (f *fakeFinancials) Universe(ctx context.Context) ([]domain.Symbol, error) {
	return f.universe, f.err
}

func (f *fakeFinancials) Statements(ctx context.Context, symbol domain.Symbol, periods int) ([]domain.FinancialStatement, error) {
	stmts := f.statements[symbol]
	if len(stmts) > periods {
		stmts = stmts[:periods]
	}
	return stmts, nil
}

// fakeVolume serves canned volume stats.
type fakeVolume struct {
	stats map[domain.Symbol]marketstore.VolumeStats
}

func (f *fakeVolume) DailyVolumeStats(ctx context.Context, symbol domain.Symbol, days int) (marketstore.VolumeStats, error) {
	s, ok := f.stats[symbol]
	if !ok {
		return marketstore.VolumeStats{}, marketstore.ErrNoData
	}
	return s, nil
}

// fakeMarket serves canned prices and candles; implements both
// domain.TickStore and MarketView.
type fakeMarket struct {
	prices    map[domain.Symbol]decimal.Decimal
	exchanges map[domain.Symbol]domain.Exchange
	candles   map[domain.Symbol][]domain.Candle
}

func (f *fakeMarket) InsertBatch(ctx context.Context, ticks []domain.Tick) (int, error) {
	return len(ticks), nil
}

func (f *fakeMarket) LatestPrice(ctx context.Context, symbol domain.Symbol) (decimal.Decimal, time.Time, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Decimal{}, time.Time{}, marketstore.ErrNoData
	}
	return p, time.Now(), nil
}

func (f *fakeMarket) LatestExchange(ctx context.Context, symbol domain.Symbol) (domain.Exchange, error) {
	e, ok := f.exchanges[symbol]
	if !ok {
		return "", marketstore.ErrNoData
	}
	return e, nil
}

func (f *fakeMarket) Candles(ctx context.Context, symbol domain.Symbol, interval time.Duration, from, to time.Time) ([]domain.Candle, error) {
	return f.candles[symbol], nil
}

// staticLimits implements trading.LimitsProvider.
type staticLimits struct{ limits domain.RiskLimits }

func (s staticLimits) Limits() domain.RiskLimits { return s.limits }

func permissiveLimits() staticLimits {
	return staticLimits{limits: domain.RiskLimits{
		MaxPositionPct:      decimal.NewFromFloat(0.10),
		MaxConcentrationPct: decimal.NewFromFloat(0.30),
	}}
}

// staticPortfolio implements trading.PortfolioProvider.
type staticPortfolio struct {
	state domain.PortfolioState
	err   error
}

func (s staticPortfolio) Current(ctx context.Context) (domain.PortfolioState, error) {
	return s.state, s.err
}

func accountWithCash(cash int64, positions ...domain.Position) domain.PortfolioState {
	c := decimal.NewFromInt(cash)
	state, err := domain.NewPortfolioState(positions,
		domain.CashBalance{Cash: c, PurchasingPower: c},
		decimal.Zero, time.Now())
	if err != nil {
		panic(err)
	}
	return state
}

// fakePlacer records placement requests and returns scripted results.
type fakePlacer struct {
	requests []trading.PlaceOrderRequest
	results  map[domain.Symbol]trading.PlaceOrderResult
	errs     map[domain.Symbol]error
	seq      int
}

func (f *fakePlacer) PlaceOrder(ctx context.Context, req trading.PlaceOrderRequest) (trading.PlaceOrderResult, error) {
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.Symbol]; ok {
		return trading.PlaceOrderResult{}, err
	}
	if result, ok := f.results[req.Symbol]; ok {
		return result, nil
	}
	f.seq++
	return trading.PlaceOrderResult{
		OrderID:  fmt.Sprintf("ord-%d", f.seq),
		Status:   domain.StatusPending,
		Accepted: true,
	}, nil
}

// dailyCandles builds a daily close series from the given prices.
func dailyCandles(symbol domain.Symbol, closes []float64) []domain.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		candles[i] = domain.Candle{
			Symbol:   symbol,
			BucketTS: start.AddDate(0, 0, i),
			Open:     px,
			High:     px,
			Low:      px,
			Close:    px,
			Volume:   1000,
		}
	}
	return candles
}
