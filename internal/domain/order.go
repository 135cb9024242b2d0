package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a node in the order lifecycle state machine.
type OrderStatus string

const (
	StatusCreated        OrderStatus = "CREATED"
	StatusPending        OrderStatus = "PENDING"
	StatusPartialFill    OrderStatus = "PARTIAL_FILL"
	StatusMatched        OrderStatus = "MATCHED"
	StatusRejected       OrderStatus = "REJECTED"
	StatusBrokerRejected OrderStatus = "BROKER_REJECTED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// allowedTransitions is the whitelist of legal lifecycle moves.
// Anything not listed is invalid, including self-transitions except
// PARTIAL_FILL -> PARTIAL_FILL (successive partial executions).
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusCreated:     {StatusPending, StatusRejected, StatusCancelled},
	StatusPending:     {StatusPartialFill, StatusMatched, StatusBrokerRejected, StatusCancelled},
	StatusPartialFill: {StatusPartialFill, StatusMatched, StatusCancelled},
	// MATCHED, REJECTED, BROKER_REJECTED and CANCELLED are terminal.
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusMatched, StatusRejected, StatusBrokerRejected, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s -> next is on the whitelist.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, t := range allowedTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a lifecycle move is not on
// the whitelist. Callers that reconcile broker state inspect it with
// errors.As and keep local state.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

// Order is an immutable record of one order. Transitions never mutate
// in place: TransitionTo returns a fresh copy so historical references
// stay valid and concurrent readers never observe a half-applied
// update.
type Order struct {
	OrderID         string          `json:"order_id"`
	Symbol          Symbol          `json:"symbol"`
	Exchange        Exchange        `json:"exchange"`
	Side            Side            `json:"side"`
	OrderType       OrderType       `json:"order_type"`
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Status          OrderStatus     `json:"status"`
	FilledQuantity  int64           `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	BrokerOrderID   string          `json:"broker_order_id"`
	RejectionReason string          `json:"rejection_reason"`
	IdempotencyKey  string          `json:"idempotency_key"`
	RunID           string          `json:"run_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewOrder builds a validated order in CREATED state.
func NewOrder(orderID string, symbol Symbol, exchange Exchange, side Side, orderType OrderType, quantity int64, price decimal.Decimal, idempotencyKey string, now time.Time) (Order, error) {
	if orderID == "" {
		return Order{}, fmt.Errorf("order: id must not be empty")
	}
	if symbol == "" {
		return Order{}, fmt.Errorf("order %s: symbol must not be empty", orderID)
	}
	if !ValidOrderType(orderType) {
		return Order{}, fmt.Errorf("order %s: unknown order type %q", orderID, orderType)
	}
	if !IsLotAligned(quantity) {
		return Order{}, fmt.Errorf("order %s: quantity %d is not a positive multiple of %d", orderID, quantity, LotSize)
	}
	if !price.IsPositive() {
		return Order{}, fmt.Errorf("order %s: price must be positive, got %s", orderID, price)
	}
	return Order{
		OrderID:        orderID,
		Symbol:         symbol,
		Exchange:       exchange,
		Side:           side,
		OrderType:      orderType,
		Quantity:       quantity,
		Price:          price,
		Status:         StatusCreated,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}, nil
}

// OrderPatch carries the fields a transition may change. Nil pointers
// leave the current value untouched.
type OrderPatch struct {
	FilledQuantity  *int64
	AvgFillPrice    *decimal.Decimal
	BrokerOrderID   *string
	RejectionReason *string
	UpdatedAt       time.Time
}

// TransitionTo returns a copy of the order in the next state with the
// patch applied. The receiver is never modified. After assembly the
// full invariant set is re-checked so a bad patch (fill exceeding
// quantity, fills on a rejection) cannot produce a corrupt order.
func (o Order) TransitionTo(next OrderStatus, patch OrderPatch) (Order, error) {
	if !o.Status.CanTransition(next) {
		return Order{}, &InvalidTransitionError{OrderID: o.OrderID, From: o.Status, To: next}
	}

	n := o
	n.Status = next
	if patch.FilledQuantity != nil {
		n.FilledQuantity = *patch.FilledQuantity
	}
	if patch.AvgFillPrice != nil {
		n.AvgFillPrice = *patch.AvgFillPrice
	}
	if patch.BrokerOrderID != nil {
		n.BrokerOrderID = *patch.BrokerOrderID
	}
	if patch.RejectionReason != nil {
		n.RejectionReason = *patch.RejectionReason
	}
	if !patch.UpdatedAt.IsZero() {
		n.UpdatedAt = patch.UpdatedAt.UTC()
	}

	if err := n.checkInvariants(); err != nil {
		return Order{}, err
	}
	return n, nil
}

func (o Order) checkInvariants() error {
	if o.FilledQuantity < 0 {
		return fmt.Errorf("order %s: filled quantity %d is negative", o.OrderID, o.FilledQuantity)
	}
	if o.FilledQuantity > o.Quantity {
		return fmt.Errorf("order %s: filled quantity %d exceeds order quantity %d", o.OrderID, o.FilledQuantity, o.Quantity)
	}
	switch o.Status {
	case StatusMatched:
		if o.FilledQuantity != o.Quantity {
			return fmt.Errorf("order %s: MATCHED requires full fill, have %d of %d", o.OrderID, o.FilledQuantity, o.Quantity)
		}
	case StatusPartialFill:
		if o.FilledQuantity == 0 {
			return fmt.Errorf("order %s: PARTIAL_FILL requires a nonzero fill", o.OrderID)
		}
		if o.FilledQuantity == o.Quantity {
			return fmt.Errorf("order %s: full fill must be MATCHED, not PARTIAL_FILL", o.OrderID)
		}
	case StatusRejected, StatusBrokerRejected:
		if o.FilledQuantity != 0 {
			return fmt.Errorf("order %s: %s order cannot carry fills", o.OrderID, o.Status)
		}
	}
	if o.AvgFillPrice.IsNegative() {
		return fmt.Errorf("order %s: negative average fill price %s", o.OrderID, o.AvgFillPrice)
	}
	return nil
}

// RemainingQuantity is the unfilled remainder.
func (o Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// Value is the notional of the full order (price * quantity).
func (o Order) Value() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// IsOpen reports whether the order can still trade at the venue.
func (o Order) IsOpen() bool {
	switch o.Status {
	case StatusPending, StatusPartialFill:
		return true
	}
	return false
}
