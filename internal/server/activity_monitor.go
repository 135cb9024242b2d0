package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
	"github.com/hoangvu/vnquant/internal/modules/agents"
)

// Activity is the recent-activity section of the status response,
// accumulated from bus events rather than polled.
type Activity struct {
	LastFlushAt      *time.Time `json:"last_flush_at,omitempty"`
	LastFlushSize    int        `json:"last_flush_size"`
	LastOrderAt      *time.Time `json:"last_order_at,omitempty"`
	LastOrderID      string     `json:"last_order_id,omitempty"`
	LastOrderSymbol  string     `json:"last_order_symbol,omitempty"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
	LastRunID        string     `json:"last_run_id,omitempty"`
	LastRunPhase     string     `json:"last_run_phase,omitempty"`
	OrdersPlaced     uint64     `json:"orders_placed"`
	RunsCompleted    uint64     `json:"runs_completed"`
	StatusChanges    uint64     `json:"order_status_changes"`
	KillSwitchActive bool       `json:"kill_switch_active"`
}

// ActivityMonitor subscribes to the event bus and keeps the latest
// observation per topic for the status endpoint.
type ActivityMonitor struct {
	mu       sync.Mutex
	activity Activity
	log      zerolog.Logger
}

// NewActivityMonitor creates a monitor subscribed to the bus. A nil
// bus yields an inert monitor; the status endpoint then reports an
// empty activity section.
func NewActivityMonitor(bus *events.Bus, log zerolog.Logger) *ActivityMonitor {
	m := &ActivityMonitor{
		log: log.With().Str("component", "activity_monitor").Logger(),
	}
	if bus == nil {
		return m
	}

	bus.Subscribe(events.TopicTickBatchFlushed, m.onTickBatch)
	bus.Subscribe(events.TopicOrderPlaced, m.onOrderPlaced)
	bus.Subscribe(events.TopicOrderStatusChanged, m.onOrderStatusChanged)
	bus.Subscribe(events.TopicRunCompleted, m.onRunCompleted)
	bus.Subscribe(events.TopicKillSwitchChanged, m.onKillSwitch)
	return m
}

// Snapshot returns a copy of the accumulated activity.
func (m *ActivityMonitor) Snapshot() Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activity
}

func (m *ActivityMonitor) onTickBatch(e events.Event) {
	n, ok := e.Data.(int)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	at := e.At
	m.activity.LastFlushAt = &at
	m.activity.LastFlushSize = n
}

func (m *ActivityMonitor) onOrderPlaced(e events.Event) {
	order, ok := e.Data.(domain.Order)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	at := e.At
	m.activity.LastOrderAt = &at
	m.activity.LastOrderID = order.OrderID
	m.activity.LastOrderSymbol = string(order.Symbol)
	m.activity.OrdersPlaced++
}

func (m *ActivityMonitor) onOrderStatusChanged(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity.StatusChanges++
}

func (m *ActivityMonitor) onRunCompleted(e events.Event) {
	snap, ok := e.Data.(agents.RunSnapshot)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	at := e.At
	m.activity.LastRunAt = &at
	m.activity.LastRunID = snap.RunID
	m.activity.LastRunPhase = snap.Phase
	m.activity.RunsCompleted++
}

func (m *ActivityMonitor) onKillSwitch(e events.Event) {
	active, ok := e.Data.(bool)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity.KillSwitchActive = active
	m.log.Warn().Bool("active", active).Msg("Kill switch state changed")
}
