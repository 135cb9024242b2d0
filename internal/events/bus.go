// Package events provides the in-process event bus connecting the
// trading core to observers (notifier, status endpoint). Delivery is
// synchronous and per-topic FIFO; a panicking subscriber is isolated
// and never takes down the publisher.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Topic names a stream of related events.
type Topic string

const (
	TopicTickBatchFlushed   Topic = "ticks.batch_flushed"
	TopicOrderPlaced        Topic = "orders.placed"
	TopicOrderStatusChanged Topic = "orders.status_changed"
	TopicRunCompleted       Topic = "pipeline.run_completed"
	TopicKillSwitchChanged  Topic = "risk.kill_switch_changed"
	TopicStreamStateChanged Topic = "market.stream_state_changed"
)

// Event is one published occurrence.
type Event struct {
	Topic Topic
	At    time.Time
	Data  interface{}
}

// Handler consumes events for a topic.
type Handler func(Event)

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	log      zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Topic][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for a topic. Handlers run in
// subscription order on the publisher's goroutine.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers the event to every subscriber of its topic.
func (b *Bus) Publish(topic Topic, data interface{}) {
	b.mu.RLock()
	handlers := b.handlers[topic]
	b.mu.RUnlock()

	evt := Event{Topic: topic, At: time.Now().UTC(), Data: data}
	for _, h := range handlers {
		b.dispatch(h, evt)
	}
}

func (b *Bus) dispatch(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("topic", string(evt.Topic)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	h(evt)
}
