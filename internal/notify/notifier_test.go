package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
	"github.com/hoangvu/vnquant/internal/modules/agents"
)

type recordingNotifier struct {
	infos  []string
	alerts []string
}

func (r *recordingNotifier) Info(ctx context.Context, title, message string) error {
	r.infos = append(r.infos, title+": "+message)
	return nil
}

func (r *recordingNotifier) Alert(ctx context.Context, title, message string) error {
	r.alerts = append(r.alerts, title+": "+message)
	return nil
}

func TestBridgeForwardsOrderPlacements(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	sink := &recordingNotifier{}
	BridgeEvents(bus, sink)

	bus.Publish(events.TopicOrderPlaced, domain.Order{
		OrderID: "ord-1", Symbol: "FPT", Exchange: domain.ExchangeHOSE,
		Side: domain.SideBuy, Quantity: 500,
		Price: decimal.NewFromInt(92500), Status: domain.StatusPending,
	})

	require.Len(t, sink.infos, 1)
	assert.Contains(t, sink.infos[0], "FPT")
	assert.Contains(t, sink.infos[0], "92500")
}

func TestBridgeEscalatesFailedRuns(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	sink := &recordingNotifier{}
	BridgeEvents(bus, sink)

	bus.Publish(events.TopicRunCompleted, agents.RunSnapshot{RunID: "run-1", Phase: "COMPLETED"})
	bus.Publish(events.TopicRunCompleted, agents.RunSnapshot{RunID: "run-2", Phase: "ERROR"})

	require.Len(t, sink.infos, 1)
	require.Len(t, sink.alerts, 1)
	assert.Contains(t, sink.alerts[0], "run-2")
}

func TestBridgeAlertsOnKillSwitch(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	sink := &recordingNotifier{}
	BridgeEvents(bus, sink)

	bus.Publish(events.TopicKillSwitchChanged, true)
	bus.Publish(events.TopicKillSwitchChanged, false)

	require.Len(t, sink.alerts, 1)
	require.Len(t, sink.infos, 1)
}

func TestBridgeIgnoresMistypedPayloads(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	sink := &recordingNotifier{}
	BridgeEvents(bus, sink)

	bus.Publish(events.TopicOrderPlaced, "not an order")
	bus.Publish(events.TopicRunCompleted, 7)
	bus.Publish(events.TopicKillSwitchChanged, "yes")

	assert.Empty(t, sink.infos)
	assert.Empty(t, sink.alerts)
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	assert.NoError(t, n.Info(context.Background(), "t", "m"))
	assert.NoError(t, n.Alert(context.Background(), "t", "m"))
}
