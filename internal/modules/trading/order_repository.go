// Package trading is the order management core: the persistent order
// log, the idempotency record store, the place-order use case and the
// broker status synchronizer.
package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/domain"
)

const orderColumns = `order_id, symbol, exchange, side, order_type, quantity, price,
	status, filled_quantity, avg_fill_price, broker_order_id, rejection_reason,
	idempotency_key, run_id, created_at, updated_at`

// OrderRepository persists the local order log in the trading
// database. Prices round-trip as decimal strings.
type OrderRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewOrderRepository creates an order repository.
func NewOrderRepository(db *database.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		db:  db,
		log: log.With().Str("component", "order_repository").Logger(),
	}
}

// Save upserts the order row. The order log keeps the latest state of
// each order; state history is reconstructable from structured logs.
func (r *OrderRepository) Save(ctx context.Context, o domain.Order) error {
	query := fmt.Sprintf(`INSERT INTO orders (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status = excluded.status,
			filled_quantity = excluded.filled_quantity,
			avg_fill_price = excluded.avg_fill_price,
			broker_order_id = excluded.broker_order_id,
			rejection_reason = excluded.rejection_reason,
			updated_at = excluded.updated_at`, orderColumns)

	_, err := r.db.ExecContext(ctx, query,
		o.OrderID, o.Symbol.String(), string(o.Exchange), string(o.Side), string(o.OrderType),
		o.Quantity, o.Price.String(), string(o.Status), o.FilledQuantity, o.AvgFillPrice.String(),
		o.BrokerOrderID, o.RejectionReason, o.IdempotencyKey, o.RunID,
		o.CreatedAt.Format(time.RFC3339Nano), o.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.OrderID, err)
	}
	return nil
}

// Get fetches one order by local id.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM orders WHERE order_id = ?`, orderColumns), orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, err
}

// Open returns all orders that can still trade (PENDING or
// PARTIAL_FILL), oldest first.
func (r *OrderRepository) Open(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM orders WHERE status IN (?, ?) ORDER BY created_at`, orderColumns),
		string(domain.StatusPending), string(domain.StatusPartialFill))
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// PendingSellQuantity sums the unfilled remainder of every working
// SELL order for the symbol. The sellable-quantity control subtracts
// this so the same shares cannot be sold twice.
func (r *OrderRepository) PendingSellQuantity(ctx context.Context, symbol domain.Symbol) (int64, error) {
	var qty sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(quantity - filled_quantity) FROM orders
		 WHERE symbol = ? AND side = ? AND status IN (?, ?)`,
		symbol.String(), string(domain.SideSell),
		string(domain.StatusPending), string(domain.StatusPartialFill)).Scan(&qty)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pending sells for %s: %w", symbol, err)
	}
	return qty.Int64, nil
}

// BySymbol returns the most recent orders for one symbol.
func (r *OrderRepository) BySymbol(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM orders WHERE symbol = ? ORDER BY created_at DESC LIMIT ?`, orderColumns),
		symbol.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for %s: %w", symbol, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                    domain.Order
		symbol, exch         string
		side, otype, status  string
		price, avgFill       string
		createdAt, updatedAt string
	)
	err := row.Scan(&o.OrderID, &symbol, &exch, &side, &otype, &o.Quantity, &price,
		&status, &o.FilledQuantity, &avgFill, &o.BrokerOrderID, &o.RejectionReason,
		&o.IdempotencyKey, &o.RunID, &createdAt, &updatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	o.Symbol = domain.Symbol(symbol)
	o.Exchange = domain.Exchange(exch)
	o.Side = domain.Side(side)
	o.OrderType = domain.OrderType(otype)
	o.Status = domain.OrderStatus(status)

	if o.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: corrupt price %q: %w", o.OrderID, price, err)
	}
	if o.AvgFillPrice, err = decimal.NewFromString(avgFill); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: corrupt avg fill price %q: %w", o.OrderID, avgFill, err)
	}
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: corrupt created_at %q: %w", o.OrderID, createdAt, err)
	}
	if o.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: corrupt updated_at %q: %w", o.OrderID, updatedAt, err)
	}
	return o, nil
}
