package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/modules/trading"
)

// OrderPlacer is the slice of the order service the executor needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req trading.PlaceOrderRequest) (trading.PlaceOrderResult, error)
}

// Executor turns approved assessments into orders. One placement
// failure does not stop the remaining plans; every outcome lands in
// the run snapshot.
type Executor struct {
	orders OrderPlacer
	log    zerolog.Logger
}

// NewExecutor wires the node.
func NewExecutor(orders OrderPlacer, log zerolog.Logger) *Executor {
	return &Executor{
		orders: orders,
		log:    log.With().Str("component", "executor_agent").Logger(),
	}
}

// Name implements Node.
func (e *Executor) Name() string { return "executor" }

// Run builds and places one order per approved trade. The idempotency
// key run_id:symbol:action makes a re-run of the same pipeline run a
// no-op at the broker.
func (e *Executor) Run(ctx context.Context, state *AgentState) (StateUpdate, error) {
	plans := make([]ExecutionPlan, 0, len(state.ApprovedTrades))

	for _, trade := range state.ApprovedTrades {
		plan := ExecutionPlan{
			Symbol:         trade.Symbol,
			Exchange:       trade.Exchange,
			Action:         trade.Action,
			Quantity:       trade.Quantity,
			Price:          trade.LatestPrice,
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", state.RunID, trade.Symbol, trade.Action),
		}

		result, err := e.orders.PlaceOrder(ctx, trading.PlaceOrderRequest{
			Symbol:         trade.Symbol,
			Exchange:       trade.Exchange,
			Side:           sideFor(trade.Action),
			OrderType:      domain.OrderTypeLO,
			Quantity:       trade.Quantity,
			Price:          trade.LatestPrice,
			ReferencePrice: trade.LatestPrice,
			IdempotencyKey: plan.IdempotencyKey,
			RunID:          state.RunID,
		})
		switch {
		case err != nil:
			plan.Note = err.Error()
			e.log.Error().Err(err).Str("symbol", trade.Symbol.String()).Msg("Order placement failed")
		case !result.Accepted:
			plan.OrderID = result.OrderID
			plan.Note = rejectionNote(result)
			e.log.Warn().
				Str("symbol", trade.Symbol.String()).
				Str("note", plan.Note).
				Msg("Execution plan rejected at placement")
		default:
			plan.OrderID = result.OrderID
			plan.Placed = true
			e.log.Info().
				Str("symbol", trade.Symbol.String()).
				Str("order_id", result.OrderID).
				Int64("quantity", trade.Quantity).
				Bool("was_duplicate", result.WasDuplicate).
				Msg("Execution plan placed")
		}
		plans = append(plans, plan)
	}

	return StateUpdate{Phase: PhaseExecuting, ExecutionPlans: plans}, nil
}

func sideFor(action Action) domain.Side {
	if action == ActionSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

func rejectionNote(result trading.PlaceOrderResult) string {
	if result.BrokerError != "" {
		return result.BrokerError
	}
	if len(result.Violations) > 0 {
		return fmt.Sprintf("rejected by pre-trade controls (%s)", result.Violations[0].Check)
	}
	return "rejected"
}
