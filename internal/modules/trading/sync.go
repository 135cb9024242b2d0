package trading

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
)

// DefaultSyncInterval is how often open orders are reconciled against
// the broker.
const DefaultSyncInterval = 2 * time.Second

// StatusSynchronizer polls the broker for every open local order and
// applies status changes through the lifecycle whitelist. A broker
// status that would require an illegal transition is logged and the
// local state kept: the local log is the system of record.
type StatusSynchronizer struct {
	broker   domain.Broker
	orders   *OrderRepository
	bus      *events.Bus
	interval time.Duration
	log      zerolog.Logger
}

// NewStatusSynchronizer creates the synchronizer.
func NewStatusSynchronizer(broker domain.Broker, orders *OrderRepository, bus *events.Bus, interval time.Duration, log zerolog.Logger) *StatusSynchronizer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &StatusSynchronizer{
		broker:   broker,
		orders:   orders,
		bus:      bus,
		interval: interval,
		log:      log.With().Str("component", "order_sync").Logger(),
	}
}

// Run polls until the context ends. Individual cycle failures are
// logged and the loop continues; the synchronizer never gives up.
func (s *StatusSynchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("Order status synchronizer started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Order status synchronizer stopped")
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Sync cycle failed")
			}
		}
	}
}

// SyncOnce reconciles every open order once.
func (s *StatusSynchronizer) SyncOnce(ctx context.Context) error {
	open, err := s.orders.Open(ctx)
	if err != nil {
		return err
	}

	for _, order := range open {
		// Dry-run orders never reached the broker and have no id.
		if order.BrokerOrderID == "" {
			continue
		}
		if err := s.syncOrder(ctx, order); err != nil {
			s.log.Warn().Err(err).
				Str("order_id", order.OrderID).
				Msg("Failed to sync order")
		}
	}
	return nil
}

func (s *StatusSynchronizer) syncOrder(ctx context.Context, order domain.Order) error {
	remote, err := s.broker.OrderStatus(ctx, order.BrokerOrderID)
	if err != nil {
		return err
	}

	if remote.Status == order.Status && remote.FilledQuantity == order.FilledQuantity {
		return nil
	}

	patch := domain.OrderPatch{UpdatedAt: time.Now()}
	if remote.FilledQuantity > 0 {
		patch.FilledQuantity = &remote.FilledQuantity
		patch.AvgFillPrice = &remote.AvgFillPrice
	}

	next, err := order.TransitionTo(remote.Status, patch)
	if err != nil {
		var ite *domain.InvalidTransitionError
		if errors.As(err, &ite) {
			// Conflicting broker view (e.g. MATCHED reported for a
			// locally CANCELLED order). Local state wins.
			s.log.Warn().
				Str("order_id", order.OrderID).
				Str("local_status", string(ite.From)).
				Str("broker_status", string(ite.To)).
				Msg("Broker status conflicts with local lifecycle, keeping local state")
			return nil
		}
		return err
	}

	if err := s.orders.Save(ctx, next); err != nil {
		return err
	}

	s.log.Info().
		Str("order_id", next.OrderID).
		Str("from", string(order.Status)).
		Str("to", string(next.Status)).
		Int64("filled", next.FilledQuantity).
		Msg("Order status updated from broker")

	if s.bus != nil {
		s.bus.Publish(events.TopicOrderStatusChanged, next)
	}
	return nil
}
