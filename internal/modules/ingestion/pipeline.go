package ingestion

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
)

// DefaultFlushInterval is how often the buffer is drained into the
// tick store.
const DefaultFlushInterval = time.Second

// Counters is a snapshot of pipeline throughput. After a graceful
// stop, Ingested equals Flushed plus Dropped: nothing in flight is
// lost silently.
type Counters struct {
	Ingested uint64 `json:"ingested"`
	Flushed  uint64 `json:"flushed"`
	Dropped  uint64 `json:"dropped"`
	Backlog  int    `json:"backlog"`
}

// Pipeline runs the ingest and flush loops over one market stream.
type Pipeline struct {
	stream   domain.MarketStream
	store    domain.TickStore
	buffer   *Buffer
	bus      *events.Bus
	interval time.Duration
	symbols  []domain.Symbol
	log      zerolog.Logger

	ingested atomic.Uint64
	flushed  atomic.Uint64
}

// NewPipeline wires a pipeline.
func NewPipeline(stream domain.MarketStream, store domain.TickStore, buffer *Buffer, bus *events.Bus, interval time.Duration, symbols []domain.Symbol, log zerolog.Logger) *Pipeline {
	if buffer == nil {
		buffer = NewBuffer(DefaultBufferCapacity)
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Pipeline{
		stream:   stream,
		store:    store,
		buffer:   buffer,
		bus:      bus,
		interval: interval,
		symbols:  symbols,
		log:      log.With().Str("component", "ingestion_pipeline").Logger(),
	}
}

// Run connects, subscribes and runs both loops until the context
// ends. On the way out the stream is closed first, the ingest loop
// drains the channel, and a final flush empties the buffer so the
// counters converge.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.stream.Connect(ctx); err != nil {
		return fmt.Errorf("ingestion: connect: %w", err)
	}
	if len(p.symbols) > 0 {
		if err := p.stream.Subscribe(ctx, p.symbols); err != nil {
			_ = p.stream.Close()
			return fmt.Errorf("ingestion: subscribe: %w", err)
		}
	}

	p.log.Info().
		Int("symbols", len(p.symbols)).
		Dur("flush_interval", p.interval).
		Msg("Ingestion pipeline started")

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.ingestLoop(runCtx) })
	g.Go(func() error { return p.flushLoop(runCtx) })

	err := g.Wait()

	// Final flush after both loops have stopped pushing.
	p.finalFlush()

	c := p.Counters()
	p.log.Info().
		Uint64("ingested", c.Ingested).
		Uint64("flushed", c.Flushed).
		Uint64("dropped", c.Dropped).
		Msg("Ingestion pipeline stopped")

	if err != nil && ctx.Err() != nil {
		// Shutdown was requested; the cause is not a failure.
		return nil
	}
	return err
}

// ingestLoop moves ticks from the stream into the buffer. It returns
// when the context ends (closing the stream so the Ticks channel
// terminates) or when the stream closes on its own.
func (p *Pipeline) ingestLoop(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = p.stream.Close()
		case <-done:
		}
	}()

	for t := range p.stream.Ticks() {
		p.buffer.Push(t)
		p.ingested.Add(1)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("ingestion: market stream closed")
}

// flushLoop drains the buffer on every interval.
func (p *Pipeline) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.flushOnce(ctx)
		}
	}
}

func (p *Pipeline) flushOnce(ctx context.Context) {
	batch := p.buffer.Drain()
	if len(batch) == 0 {
		return
	}

	n, err := p.store.InsertBatch(ctx, batch)
	if err != nil {
		// The batch is gone from the buffer; re-pushing would reorder
		// ticks, so the loss is counted and logged loudly instead.
		p.log.Error().Err(err).Int("batch", len(batch)).Msg("Failed to flush tick batch")
		return
	}
	p.flushed.Add(uint64(n))

	if p.bus != nil {
		p.bus.Publish(events.TopicTickBatchFlushed, n)
	}
	p.log.Debug().Int("batch", n).Msg("Flushed tick batch")
}

// finalFlush empties whatever remains using a fresh context: the run
// context is already cancelled during shutdown.
func (p *Pipeline) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.flushOnce(ctx)
}

// Counters returns the current throughput snapshot.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Ingested: p.ingested.Load(),
		Flushed:  p.flushed.Load(),
		Dropped:  p.buffer.Dropped(),
		Backlog:  p.buffer.Len(),
	}
}

// StreamState exposes the underlying stream state for the status
// endpoint.
func (p *Pipeline) StreamState() domain.StreamState {
	return p.stream.State()
}
