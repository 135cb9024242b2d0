package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
	"github.com/hoangvu/vnquant/internal/modules/risk"
)

// PortfolioProvider serves the current account snapshot to the
// pre-trade controls.
type PortfolioProvider interface {
	Current(ctx context.Context) (domain.PortfolioState, error)
}

// LimitsProvider serves the account risk limits. The kill switch can
// flip at any moment, so limits are read per placement, never cached.
type LimitsProvider interface {
	Limits() domain.RiskLimits
}

// PlaceOrderRequest is one order submission.
type PlaceOrderRequest struct {
	Symbol         domain.Symbol   `json:"symbol"`
	Exchange       domain.Exchange `json:"exchange"`
	Side           domain.Side     `json:"side"`
	OrderType      domain.OrderType `json:"order_type"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	IdempotencyKey string          `json:"idempotency_key"`
	RunID          string          `json:"run_id,omitempty"`
}

// PlaceOrderResult is the terminal outcome of a placement. The same
// result is returned verbatim for duplicate submissions of the same
// idempotency key, with WasDuplicate flipped on.
type PlaceOrderResult struct {
	OrderID      string             `json:"order_id,omitempty"`
	Status       domain.OrderStatus `json:"status,omitempty"`
	Accepted     bool               `json:"accepted"`
	Violations   []risk.Violation   `json:"violations,omitempty"`
	BrokerError  string             `json:"broker_error,omitempty"`
	WasDuplicate bool               `json:"was_duplicate"`
}

// OrderService is the place-order use case.
type OrderService struct {
	broker    domain.Broker
	orders    *OrderRepository
	idem      *IdempotencyRepository
	portfolio PortfolioProvider
	limits    LimitsProvider
	bus       *events.Bus
	dryRun    bool
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*keyedLock
}

// keyedLock serializes placements for one idempotency key. The waiter
// count lets the last releaser evict the entry, so the lock table only
// holds keys with a placement in flight.
type keyedLock struct {
	sync.Mutex
	waiters int
}

// NewOrderService wires the use case.
func NewOrderService(
	broker domain.Broker,
	orders *OrderRepository,
	idem *IdempotencyRepository,
	portfolio PortfolioProvider,
	limits LimitsProvider,
	bus *events.Bus,
	dryRun bool,
	log zerolog.Logger,
) *OrderService {
	return &OrderService{
		broker:    broker,
		orders:    orders,
		idem:      idem,
		portfolio: portfolio,
		limits:    limits,
		bus:       bus,
		dryRun:    dryRun,
		locks:     make(map[string]*keyedLock),
		log:       log.With().Str("component", "order_service").Logger(),
	}
}

// lockKey acquires the placement lock for one idempotency key.
// Concurrent submissions of the same key queue here, so at most one
// reaches the broker; the rest find the recorded result.
func (s *OrderService) lockKey(key string) *keyedLock {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyedLock{}
		s.locks[key] = l
	}
	l.waiters++
	s.mu.Unlock()

	l.Lock()
	return l
}

// unlockKey releases the lock and drops the table entry once no
// placement for the key is waiting on it anymore.
func (s *OrderService) unlockKey(key string, l *keyedLock) {
	l.Unlock()

	s.mu.Lock()
	l.waiters--
	if l.waiters == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()
}

// PlaceOrder runs the full placement flow: idempotency lookup, risk
// gate, broker submission, best-effort persistence, result recording.
// Every terminal outcome (rejection included) is recorded under the
// idempotency key so retries are answered from the record.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if req.IdempotencyKey == "" {
		return PlaceOrderResult{}, fmt.Errorf("place order: idempotency key is required")
	}
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypeLO
	}

	lock := s.lockKey(req.IdempotencyKey)
	defer s.unlockKey(req.IdempotencyKey, lock)

	// 1. Duplicate check.
	if cached, ok, err := s.idem.Get(ctx, req.IdempotencyKey); err != nil {
		return PlaceOrderResult{}, fmt.Errorf("place order: idempotency lookup: %w", err)
	} else if ok {
		var result PlaceOrderResult
		if err := json.Unmarshal(cached, &result); err != nil {
			return PlaceOrderResult{}, fmt.Errorf("place order: corrupt idempotency record: %w", err)
		}
		result.WasDuplicate = true
		s.log.Info().
			Str("idempotency_key", req.IdempotencyKey).
			Str("order_id", result.OrderID).
			Msg("Duplicate submission answered from idempotency record")
		return result, nil
	}

	// 2. Risk gate.
	result, err := s.checkRisk(ctx, req)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if !result.Approved {
		out := PlaceOrderResult{Accepted: false}
		for _, v := range result.Violations {
			out.Violations = append(out.Violations, v)
		}
		s.record(ctx, req.IdempotencyKey, out)
		s.log.Warn().
			Str("symbol", req.Symbol.String()).
			Str("side", string(req.Side)).
			Str("result", result.String()).
			Msg("Order rejected by pre-trade controls")
		return out, nil
	}

	// 3. Build the order with a fresh id.
	now := time.Now()
	order, err := domain.NewOrder(uuid.NewString(), req.Symbol, req.Exchange, req.Side,
		req.OrderType, req.Quantity, req.Price, req.IdempotencyKey, now)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("place order: %w", err)
	}
	order.RunID = req.RunID

	// 4. Submit (or simulate).
	order = s.submit(ctx, order, &now)

	// 5. Best-effort persistence: a storage hiccup must not lose an
	// order the broker already accepted.
	if err := s.orders.Save(ctx, order); err != nil {
		s.log.Error().Err(err).Str("order_id", order.OrderID).Msg("Failed to persist order")
	}

	out := PlaceOrderResult{
		OrderID:  order.OrderID,
		Status:   order.Status,
		Accepted: order.Status == domain.StatusPending,
	}
	if order.Status == domain.StatusRejected {
		out.BrokerError = order.RejectionReason
	}

	// 6. Record the terminal result.
	s.record(ctx, req.IdempotencyKey, out)

	if s.bus != nil && out.Accepted {
		s.bus.Publish(events.TopicOrderPlaced, order)
	}
	return out, nil
}

func (s *OrderService) checkRisk(ctx context.Context, req PlaceOrderRequest) (risk.ValidationResult, error) {
	pf, err := s.portfolio.Current(ctx)
	if err != nil {
		return risk.ValidationResult{}, fmt.Errorf("place order: portfolio snapshot: %w", err)
	}

	pendingSell, err := s.orders.PendingSellQuantity(ctx, req.Symbol)
	if err != nil {
		return risk.ValidationResult{}, fmt.Errorf("place order: pending sells: %w", err)
	}

	return risk.ValidateOrder(
		risk.OrderCheckRequest{
			Symbol:         req.Symbol,
			Exchange:       req.Exchange,
			Side:           req.Side,
			Quantity:       req.Quantity,
			Price:          req.Price,
			ReferencePrice: req.ReferencePrice,
		},
		risk.AccountContext{Portfolio: pf, Limits: s.limits.Limits(), PendingSellQty: pendingSell},
	), nil
}

// submit sends the order to the broker, or simulates acceptance in
// dry-run mode. The returned order is in PENDING on success and
// REJECTED on submission failure.
func (s *OrderService) submit(ctx context.Context, order domain.Order, now *time.Time) domain.Order {
	if s.dryRun {
		// No broker call happens, so no broker order id exists.
		next, err := order.TransitionTo(domain.StatusPending, domain.OrderPatch{UpdatedAt: *now})
		if err != nil {
			s.log.Error().Err(err).Msg("Dry-run transition failed")
			return order
		}
		s.log.Info().
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol.String()).
			Msg("Dry run: order accepted without broker submission")
		return next
	}

	ack, err := s.broker.PlaceOrder(ctx, domain.BrokerOrderRequest{
		Symbol:    order.Symbol,
		Exchange:  order.Exchange,
		Side:      order.Side,
		OrderType: order.OrderType,
		Quantity:  order.Quantity,
		Price:     order.Price,
		ClientRef: order.OrderID,
	})
	if err != nil {
		reason := err.Error()
		rejected, terr := order.TransitionTo(domain.StatusRejected, domain.OrderPatch{RejectionReason: &reason, UpdatedAt: *now})
		if terr != nil {
			s.log.Error().Err(terr).Msg("Rejection transition failed")
			return order
		}
		s.log.Error().Err(err).
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol.String()).
			Msg("Broker rejected order submission")
		return rejected
	}

	next, err := order.TransitionTo(domain.StatusPending, domain.OrderPatch{BrokerOrderID: &ack.BrokerOrderID, UpdatedAt: *now})
	if err != nil {
		s.log.Error().Err(err).Msg("Acceptance transition failed")
		return order
	}
	s.log.Info().
		Str("order_id", order.OrderID).
		Str("broker_order_id", ack.BrokerOrderID).
		Str("symbol", order.Symbol.String()).
		Str("side", string(order.Side)).
		Int64("quantity", order.Quantity).
		Str("price", order.Price.String()).
		Msg("Order accepted by broker")
	return next
}

// record stores the terminal result under the idempotency key.
// Failures are logged, not returned: the placement already happened.
func (s *OrderService) record(ctx context.Context, key string, result PlaceOrderResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode placement result")
		return
	}
	if err := s.idem.Put(ctx, key, payload, DefaultIdempotencyTTL); err != nil {
		s.log.Error().Err(err).Str("idempotency_key", key).Msg("Failed to record placement result")
	}
}
