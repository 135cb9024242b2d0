// Package ingestion moves ticks from the market data stream into the
// tick store: a bounded in-memory buffer absorbing feed bursts, an
// ingest loop consuming the stream and a flush loop draining the
// buffer into batch inserts.
package ingestion

import "sync"

import "github.com/hoangvu/vnquant/internal/domain"

// DefaultBufferCapacity bounds the in-memory backlog. At full
// capacity the oldest tick is dropped for each new arrival: fresher
// data is worth more than stale data.
const DefaultBufferCapacity = 100_000

// Buffer is a bounded FIFO ring of ticks. All methods are safe for
// concurrent use.
type Buffer struct {
	mu       sync.Mutex
	ring     []domain.Tick
	head     int // index of the oldest element
	size     int
	capacity int
	dropped  uint64
}

// NewBuffer creates a buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{ring: make([]domain.Tick, capacity), capacity: capacity}
}

// Push appends a tick, evicting the oldest when full.
func (b *Buffer) Push(t domain.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == b.capacity {
		// Overwrite the oldest slot and advance the head.
		b.ring[b.head] = t
		b.head = (b.head + 1) % b.capacity
		b.dropped++
		return
	}
	b.ring[(b.head+b.size)%b.capacity] = t
	b.size++
}

// Drain atomically removes and returns everything in FIFO order. The
// flush loop calls this so inserts never race with new pushes.
func (b *Buffer) Drain() []domain.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}
	out := make([]domain.Tick, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.ring[(b.head+i)%b.capacity]
	}
	b.head = 0
	b.size = 0
	return out
}

// Len returns the current backlog.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the number of ticks evicted due to overflow.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
