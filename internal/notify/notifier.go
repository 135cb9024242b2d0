// Package notify delivers human-facing alerts. The default sink is
// the structured log; richer channels implement domain.Notifier.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
	"github.com/hoangvu/vnquant/internal/modules/agents"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

// Info delivers a routine notification.
func (n *LogNotifier) Info(ctx context.Context, title, message string) error {
	n.log.Info().Str("title", title).Msg(message)
	return nil
}

// Alert delivers an urgent notification.
func (n *LogNotifier) Alert(ctx context.Context, title, message string) error {
	n.log.Warn().Str("title", title).Msg(message)
	return nil
}

// BridgeEvents forwards noteworthy bus events to the notifier:
// completed pipeline runs, placed orders and kill switch flips.
func BridgeEvents(bus *events.Bus, notifier domain.Notifier) {
	if bus == nil || notifier == nil {
		return
	}

	bus.Subscribe(events.TopicOrderPlaced, func(e events.Event) {
		order, ok := e.Data.(domain.Order)
		if !ok {
			return
		}
		_ = notifier.Info(context.Background(), "Order placed",
			fmt.Sprintf("%s %s %d %s @ %s (%s)",
				order.Side, order.Symbol, order.Quantity, order.Exchange, order.Price, order.Status))
	})

	bus.Subscribe(events.TopicRunCompleted, func(e events.Event) {
		snap, ok := e.Data.(agents.RunSnapshot)
		if !ok {
			return
		}
		msg := fmt.Sprintf("run %s finished in phase %s with %d plan(s)",
			snap.RunID, snap.Phase, len(snap.Plans))
		if snap.Phase == string(agents.PhaseError) {
			_ = notifier.Alert(context.Background(), "Pipeline run failed", msg)
			return
		}
		_ = notifier.Info(context.Background(), "Pipeline run completed", msg)
	})

	bus.Subscribe(events.TopicKillSwitchChanged, func(e events.Event) {
		active, ok := e.Data.(bool)
		if !ok {
			return
		}
		if active {
			_ = notifier.Alert(context.Background(), "Kill switch engaged", "all order placement halted")
			return
		}
		_ = notifier.Info(context.Background(), "Kill switch released", "order placement resumed")
	})
}
