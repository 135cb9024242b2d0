package trading

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

func mustOrder(t *testing.T, id string, side domain.Side, qty int64) domain.Order {
	t.Helper()
	o, err := domain.NewOrder(id, "FPT", domain.ExchangeHOSE, side, domain.OrderTypeLO,
		qty, decimal.RequireFromString("85000.5"), "key-"+id, time.Now())
	require.NoError(t, err)
	return o
}

func TestOrderRoundTrip(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	ctx := context.Background()

	o := mustOrder(t, "ord-1", domain.SideBuy, 500)
	require.NoError(t, repo.Save(ctx, o))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, got.OrderID)
	assert.True(t, got.Price.Equal(o.Price), "price %s", got.Price)
	assert.Equal(t, o.Status, got.Status)
	assert.Equal(t, o.IdempotencyKey, got.IdempotencyKey)
}

func TestGetUnknownOrder(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestSaveUpsertsStatus(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	ctx := context.Background()

	o := mustOrder(t, "ord-1", domain.SideBuy, 500)
	require.NoError(t, repo.Save(ctx, o))

	ref := "SSI-9"
	pending, err := o.TransitionTo(domain.StatusPending, domain.OrderPatch{BrokerOrderID: &ref, UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, pending))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "SSI-9", got.BrokerOrderID)
}

func TestOpenOrders(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	ctx := context.Background()
	now := time.Now()

	created := mustOrder(t, "ord-created", domain.SideBuy, 100)
	require.NoError(t, repo.Save(ctx, created))

	pending, err := mustOrder(t, "ord-pending", domain.SideBuy, 100).
		TransitionTo(domain.StatusPending, domain.OrderPatch{UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, pending))

	cancelled, err := mustOrder(t, "ord-cancelled", domain.SideBuy, 100).
		TransitionTo(domain.StatusCancelled, domain.OrderPatch{UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, cancelled))

	open, err := repo.Open(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ord-pending", open[0].OrderID)
}

func TestPendingSellQuantity(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	ctx := context.Background()
	now := time.Now()

	qty := func(n int64) *int64 { return &n }
	px := decimal.NewFromInt(85_000)

	sell1, err := mustOrder(t, "s1", domain.SideSell, 300).
		TransitionTo(domain.StatusPending, domain.OrderPatch{UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sell1))

	// 500 ordered, 200 filled: 300 still working.
	sell2, err := mustOrder(t, "s2", domain.SideSell, 500).
		TransitionTo(domain.StatusPending, domain.OrderPatch{UpdatedAt: now})
	require.NoError(t, err)
	sell2, err = sell2.TransitionTo(domain.StatusPartialFill, domain.OrderPatch{FilledQuantity: qty(200), AvgFillPrice: &px, UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sell2))

	// Matched sells and buys do not count.
	buy, err := mustOrder(t, "b1", domain.SideBuy, 400).
		TransitionTo(domain.StatusPending, domain.OrderPatch{UpdatedAt: now})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, buy))

	total, err := repo.PendingSellQuantity(ctx, "FPT")
	require.NoError(t, err)
	assert.Equal(t, int64(600), total)

	none, err := repo.PendingSellQuantity(ctx, "VNM")
	require.NoError(t, err)
	assert.Zero(t, none)
}
