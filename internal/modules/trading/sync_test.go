package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/domain"
)

func savedPendingOrder(t *testing.T, repo *OrderRepository, id, brokerID string) domain.Order {
	t.Helper()
	o := mustOrder(t, id, domain.SideBuy, 500)
	pending, err := o.TransitionTo(domain.StatusPending, domain.OrderPatch{BrokerOrderID: &brokerID, UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), pending))
	return pending
}

func TestSyncAppliesFill(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	order := savedPendingOrder(t, repo, "ord-1", "SSI-1")

	broker := &fakeBroker{statuses: map[string]domain.BrokerOrderStatus{
		"SSI-1": {BrokerOrderID: "SSI-1", Status: domain.StatusMatched, FilledQuantity: 500, AvgFillPrice: d(85_000)},
	}}

	sync := NewStatusSynchronizer(broker, repo, nil, 0, zerolog.Nop())
	require.NoError(t, sync.SyncOnce(context.Background()))

	got, err := repo.Get(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMatched, got.Status)
	assert.EqualValues(t, 500, got.FilledQuantity)
	assert.True(t, got.AvgFillPrice.Equal(d(85_000)))
}

func TestSyncPartialFillProgression(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	order := savedPendingOrder(t, repo, "ord-1", "SSI-1")

	broker := &fakeBroker{statuses: map[string]domain.BrokerOrderStatus{
		"SSI-1": {BrokerOrderID: "SSI-1", Status: domain.StatusPartialFill, FilledQuantity: 200, AvgFillPrice: d(85_000)},
	}}
	sync := NewStatusSynchronizer(broker, repo, nil, 0, zerolog.Nop())

	require.NoError(t, sync.SyncOnce(context.Background()))
	got, err := repo.Get(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartialFill, got.Status)

	// Second cycle with a bigger fill: PARTIAL_FILL -> PARTIAL_FILL.
	broker.statuses["SSI-1"] = domain.BrokerOrderStatus{
		BrokerOrderID: "SSI-1", Status: domain.StatusPartialFill, FilledQuantity: 400, AvgFillPrice: d(85_000)}
	require.NoError(t, sync.SyncOnce(context.Background()))

	got, err = repo.Get(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.EqualValues(t, 400, got.FilledQuantity)
}

func TestSyncKeepsLocalStateOnConflict(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	ctx := context.Background()

	// Locally cancelled order that the broker still reports MATCHED.
	pending := savedPendingOrder(t, repo, "ord-1", "SSI-1")
	cancelled, err := pending.TransitionTo(domain.StatusCancelled, domain.OrderPatch{UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, cancelled))

	// Cancelled orders are terminal, so SyncOnce skips them entirely.
	// Exercise the conflict path directly.
	broker := &fakeBroker{statuses: map[string]domain.BrokerOrderStatus{
		"SSI-1": {BrokerOrderID: "SSI-1", Status: domain.StatusMatched, FilledQuantity: 500, AvgFillPrice: d(85_000)},
	}}
	sync := NewStatusSynchronizer(broker, repo, nil, 0, zerolog.Nop())
	require.NoError(t, sync.syncOrder(ctx, cancelled))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status, "local terminal state wins")
}

func TestSyncSkipsOrdersWithoutBrokerID(t *testing.T) {
	db := openTradingDB(t)
	repo := NewOrderRepository(db, zerolog.Nop())
	// A dry-run placement leaves the broker order id empty.
	savedPendingOrder(t, repo, "ord-1", "")

	broker := &fakeBroker{statusErr: domain.ErrOrderNotFound}
	sync := NewStatusSynchronizer(broker, repo, nil, 0, zerolog.Nop())
	assert.NoError(t, sync.SyncOnce(context.Background()))
	assert.Zero(t, broker.statusCalls.Load(), "an order that never reached the broker must not be queried")
}
