package trading

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/domain"
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

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// fakeBroker counts submissions and serves scripted statuses.
type fakeBroker struct {
	placeCalls  atomic.Int64
	statusCalls atomic.Int64
	placeErr    error
	statuses    map[string]domain.BrokerOrderStatus
	statusErr   error
	nextAckID   string
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req domain.BrokerOrderRequest) (domain.BrokerOrderAck, error) {
	f.placeCalls.Add(1)
	if f.placeErr != nil {
		return domain.BrokerOrderAck{}, f.placeErr
	}
	id := f.nextAckID
	if id == "" {
		id = "SSI-1"
	}
	return domain.BrokerOrderAck{BrokerOrderID: id, Status: domain.StatusPending}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, brokerOrderID string) error { return nil }

func (f *fakeBroker) OrderStatus(ctx context.Context, brokerOrderID string) (domain.BrokerOrderStatus, error) {
	f.statusCalls.Add(1)
	if f.statusErr != nil {
		return domain.BrokerOrderStatus{}, f.statusErr
	}
	st, ok := f.statuses[brokerOrderID]
	if !ok {
		return domain.BrokerOrderStatus{}, domain.ErrOrderNotFound
	}
	return st, nil
}

func (f *fakeBroker) OpenOrders(ctx context.Context) ([]domain.BrokerOrderStatus, error) {
	return nil, nil
}

func (f *fakeBroker) Portfolio(ctx context.Context) (domain.PortfolioState, error) {
	return domain.PortfolioState{}, nil
}

type staticPortfolio struct{ state domain.PortfolioState }

func (s staticPortfolio) Current(ctx context.Context) (domain.PortfolioState, error) {
	return s.state, nil
}

type staticLimits struct{ limits domain.RiskLimits }

func (s staticLimits) Limits() domain.RiskLimits { return s.limits }

func richPortfolio() domain.PortfolioState {
	positions := []domain.Position{
		{Symbol: "FPT", Exchange: domain.ExchangeHOSE, Quantity: 1000, SellableQuantity: 800,
			ReceivingT2: 200, AvgCost: d(80_000), MarketPrice: d(85_000)},
	}
	cash := domain.CashBalance{Cash: d(500_000_000), PurchasingPower: d(450_000_000)}
	state, err := domain.NewPortfolioState(positions, cash, decimal.Zero, time.Now())
	if err != nil {
		panic(err)
	}
	return state
}

func looseLimits() domain.RiskLimits {
	return domain.RiskLimits{MaxPositionPct: decimal.NewFromFloat(0.25)}
}

func newService(t *testing.T, db *database.DB, broker domain.Broker, dryRun bool) (*OrderService, *OrderRepository, *IdempotencyRepository) {
	t.Helper()
	orders := NewOrderRepository(db, zerolog.Nop())
	idem := NewIdempotencyRepository(db, zerolog.Nop())
	svc := NewOrderService(broker, orders, idem,
		staticPortfolio{state: richPortfolio()},
		staticLimits{limits: looseLimits()},
		nil, dryRun, zerolog.Nop())
	return svc, orders, idem
}

func validRequest(key string) PlaceOrderRequest {
	return PlaceOrderRequest{
		Symbol:         "FPT",
		Exchange:       domain.ExchangeHOSE,
		Side:           domain.SideBuy,
		OrderType:      domain.OrderTypeLO,
		Quantity:       500,
		Price:          d(85_000),
		ReferencePrice: d(85_000),
		IdempotencyKey: key,
	}
}
