package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T) Order {
	t.Helper()
	o, err := NewOrder("ord-1", "FPT", ExchangeHOSE, SideBuy, OrderTypeLO, 500, decimal.NewFromInt(85000), "key-1", time.Date(2026, 2, 9, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	return o
}

func TestNewOrderValidation(t *testing.T) {
	price := decimal.NewFromInt(85000)
	now := time.Now()

	tests := []struct {
		name    string
		id      string
		qty     int64
		price   decimal.Decimal
		otype   OrderType
		wantErr string
	}{
		{"valid", "ord-1", 100, price, OrderTypeLO, ""},
		{"empty id", "", 100, price, OrderTypeLO, "id must not be empty"},
		{"odd lot", "ord-1", 150, price, OrderTypeLO, "not a positive multiple"},
		{"zero quantity", "ord-1", 0, price, OrderTypeLO, "not a positive multiple"},
		{"negative price", "ord-1", 100, decimal.NewFromInt(-1), OrderTypeLO, "price must be positive"},
		{"zero price", "ord-1", 100, decimal.Zero, OrderTypeLO, "price must be positive"},
		{"bad type", "ord-1", 100, price, OrderType("STOP"), "unknown order type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.id, "FPT", ExchangeHOSE, SideBuy, tt.otype, tt.qty, tt.price, "k", now)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTransitionWhitelist(t *testing.T) {
	all := []OrderStatus{
		StatusCreated, StatusPending, StatusPartialFill, StatusMatched,
		StatusRejected, StatusBrokerRejected, StatusCancelled,
	}

	allowed := map[OrderStatus]map[OrderStatus]bool{
		StatusCreated:     {StatusPending: true, StatusRejected: true, StatusCancelled: true},
		StatusPending:     {StatusPartialFill: true, StatusMatched: true, StatusBrokerRejected: true, StatusCancelled: true},
		StatusPartialFill: {StatusPartialFill: true, StatusMatched: true, StatusCancelled: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	for _, s := range []OrderStatus{StatusMatched, StatusRejected, StatusBrokerRejected, StatusCancelled} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		for _, next := range []OrderStatus{StatusCreated, StatusPending, StatusPartialFill, StatusMatched, StatusCancelled} {
			assert.False(t, s.CanTransition(next), "%s -> %s must be rejected", s, next)
		}
	}
}

func TestTransitionToReturnsNewInstance(t *testing.T) {
	o := newTestOrder(t)
	broker := "SSI-42"

	next, err := o.TransitionTo(StatusPending, OrderPatch{BrokerOrderID: &broker, UpdatedAt: o.CreatedAt.Add(time.Second)})
	require.NoError(t, err)

	// Original untouched.
	assert.Equal(t, StatusCreated, o.Status)
	assert.Empty(t, o.BrokerOrderID)

	assert.Equal(t, StatusPending, next.Status)
	assert.Equal(t, "SSI-42", next.BrokerOrderID)
	assert.True(t, next.UpdatedAt.After(o.UpdatedAt))
}

func TestInvalidTransitionError(t *testing.T) {
	o := newTestOrder(t)

	_, err := o.TransitionTo(StatusMatched, OrderPatch{})
	require.Error(t, err)

	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, StatusCreated, ite.From)
	assert.Equal(t, StatusMatched, ite.To)
	assert.Equal(t, "ord-1", ite.OrderID)
}

func TestTransitionInvariants(t *testing.T) {
	o := newTestOrder(t)
	pending, err := o.TransitionTo(StatusPending, OrderPatch{})
	require.NoError(t, err)

	qty := func(n int64) *int64 { return &n }
	px := decimal.NewFromInt(85000)

	t.Run("overfill rejected", func(t *testing.T) {
		_, err := pending.TransitionTo(StatusPartialFill, OrderPatch{FilledQuantity: qty(600), AvgFillPrice: &px})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds order quantity")
	})

	t.Run("matched requires full fill", func(t *testing.T) {
		_, err := pending.TransitionTo(StatusMatched, OrderPatch{FilledQuantity: qty(300), AvgFillPrice: &px})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires full fill")
	})

	t.Run("partial fill cannot be zero", func(t *testing.T) {
		_, err := pending.TransitionTo(StatusPartialFill, OrderPatch{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nonzero fill")
	})

	t.Run("partial fill cannot be complete", func(t *testing.T) {
		_, err := pending.TransitionTo(StatusPartialFill, OrderPatch{FilledQuantity: qty(500), AvgFillPrice: &px})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be MATCHED")
	})

	t.Run("rejection cannot carry fills", func(t *testing.T) {
		_, err := pending.TransitionTo(StatusBrokerRejected, OrderPatch{FilledQuantity: qty(100)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot carry fills")
	})
}

func TestPartialFillProgression(t *testing.T) {
	o := newTestOrder(t)
	px := decimal.NewFromInt(85000)
	qty := func(n int64) *int64 { return &n }

	pending, err := o.TransitionTo(StatusPending, OrderPatch{})
	require.NoError(t, err)

	p1, err := pending.TransitionTo(StatusPartialFill, OrderPatch{FilledQuantity: qty(100), AvgFillPrice: &px})
	require.NoError(t, err)
	assert.Equal(t, int64(400), p1.RemainingQuantity())

	p2, err := p1.TransitionTo(StatusPartialFill, OrderPatch{FilledQuantity: qty(300), AvgFillPrice: &px})
	require.NoError(t, err)
	assert.True(t, p2.IsOpen())

	done, err := p2.TransitionTo(StatusMatched, OrderPatch{FilledQuantity: qty(500), AvgFillPrice: &px})
	require.NoError(t, err)
	assert.False(t, done.IsOpen())
	assert.Equal(t, int64(0), done.RemainingQuantity())
}

func TestOrderValue(t *testing.T) {
	o := newTestOrder(t)
	assert.True(t, o.Value().Equal(decimal.NewFromInt(42_500_000)))
}
