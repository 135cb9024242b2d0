package ssi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/hoangvu/vnquant/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	// A ping every pingInterval; a pong must arrive within
	// pongTimeout or the connection is declared dead.
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// Buffered so a slow consumer smooths over bursts without
	// blocking the read loop for long.
	tickChannelDepth = 4096
)

// MarketWebSocket streams trade prints from the broker's market data
// feed. It owns the reconnect loop: transient disconnects move the
// stream to RECONNECTING and re-subscribe transparently; only after
// the attempt budget is exhausted does the stream go FATAL and close
// its tick channel.
type MarketWebSocket struct {
	url    string
	signer *RequestSigner
	log    zerolog.Logger

	pingInterval time.Duration
	pongTimeout  time.Duration

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	state      domain.StreamState
	symbols    []domain.Symbol
	stopped    bool

	ticks     chan domain.Tick
	closeOnce sync.Once
}

// NewMarketWebSocket creates a stream client for the given feed URL.
// The signer authenticates the subscribe frames.
func NewMarketWebSocket(url string, signer *RequestSigner, log zerolog.Logger) *MarketWebSocket {
	return &MarketWebSocket{
		url:          url,
		signer:       signer,
		log:          log.With().Str("component", "market_websocket").Logger(),
		pingInterval: defaultPingInterval,
		pongTimeout:  defaultPongTimeout,
		state:        domain.StreamDisconnected,
		ticks:        make(chan domain.Tick, tickChannelDepth),
	}
}

// Connect dials the feed and starts the read loop.
func (ws *MarketWebSocket) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return fmt.Errorf("market stream is closed")
	}
	ws.state = domain.StreamConnecting
	ws.mu.Unlock()

	if err := ws.dial(ctx); err != nil {
		ws.setState(domain.StreamDisconnected)
		return err
	}

	ws.mu.RLock()
	conn := ws.conn
	connCtx := ws.connCtx
	ws.mu.RUnlock()
	go ws.readMessages(connCtx)
	go ws.keepalive(connCtx, conn)

	ws.log.Info().Str("url", ws.url).Msg("Market data stream connected")
	return nil
}

// dial establishes one connection and marks the stream CONNECTED.
func (ws *MarketWebSocket) dial(ctx context.Context) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, ws.url, nil)
	if err != nil {
		return fmt.Errorf("dial market stream: %w", err)
	}

	// Connection context outlives the dial context; cancelled on
	// disconnect to unblock pending reads.
	connCtx, cancel := context.WithCancel(context.Background())

	ws.mu.Lock()
	ws.conn = conn
	ws.connCtx = connCtx
	ws.cancelFunc = cancel
	ws.state = domain.StreamConnected
	ws.mu.Unlock()
	return nil
}

type subscribeFrame struct {
	Action  string            `json:"action"`
	Channel string            `json:"channel"`
	Symbols []string          `json:"symbols"`
	Headers map[string]string `json:"headers"`
}

// Subscribe registers the symbol set. The set is remembered and
// replayed after every reconnect.
func (ws *MarketWebSocket) Subscribe(ctx context.Context, symbols []domain.Symbol) error {
	ws.mu.Lock()
	ws.symbols = append([]domain.Symbol(nil), symbols...)
	conn := ws.conn
	ws.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("subscribe: stream not connected")
	}
	return ws.sendSubscribe(ctx, conn, symbols)
}

func (ws *MarketWebSocket) sendSubscribe(ctx context.Context, conn *websocket.Conn, symbols []domain.Symbol) error {
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = s.String()
	}

	payload, err := json.Marshal(map[string]interface{}{"channel": "X-TRADE", "symbols": names})
	if err != nil {
		return fmt.Errorf("marshal subscribe payload: %w", err)
	}

	frame := subscribeFrame{
		Action:  "subscribe",
		Channel: "X-TRADE",
		Symbols: names,
		Headers: ws.signer.Sign("WS", "/subscribe", payload),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal subscribe frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send subscribe frame: %w", err)
	}

	ws.log.Info().Int("symbols", len(names)).Msg("Subscribed to trade channel")
	return nil
}

// Ticks is the consumer channel. It is closed only when the stream is
// stopped or goes FATAL.
func (ws *MarketWebSocket) Ticks() <-chan domain.Tick {
	return ws.ticks
}

// State reports the current connection state.
func (ws *MarketWebSocket) State() domain.StreamState {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.state
}

func (ws *MarketWebSocket) setState(s domain.StreamState) {
	ws.mu.Lock()
	ws.state = s
	ws.mu.Unlock()
}

// Close shuts the stream down for good.
func (ws *MarketWebSocket) Close() error {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return nil
	}
	ws.stopped = true
	ws.state = domain.StreamDisconnected
	conn := ws.conn
	cancel := ws.cancelFunc
	ws.conn = nil
	ws.cancelFunc = nil
	ws.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "")
	}
	ws.closeTicks()

	ws.log.Info().Msg("Market data stream closed")
	if err != nil {
		return fmt.Errorf("close market stream: %w", err)
	}
	return nil
}

func (ws *MarketWebSocket) closeTicks() {
	ws.closeOnce.Do(func() { close(ws.ticks) })
}

// readMessages pumps feed frames into the tick channel until the
// connection dies, then hands off to the reconnect loop.
func (ws *MarketWebSocket) readMessages(ctx context.Context) {
	defer func() {
		ws.mu.RLock()
		stopped := ws.stopped
		ws.mu.RUnlock()
		if !stopped {
			go ws.reconnectLoop()
		}
	}()

	for {
		ws.mu.RLock()
		conn := ws.conn
		ws.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case ctx.Err() != nil:
				ws.log.Debug().Msg("Read loop cancelled")
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				ws.log.Info().Int("status", int(status)).Msg("Feed closed the connection")
			default:
				ws.log.Error().Err(err).Msg("Market stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		ws.handleMessage(message)
	}
}

// keepalive pings the peer on an interval. TCP keeps a silently dead
// connection looking healthy until the next write; a missed pong
// within the timeout closes the connection, which fails the read loop
// and hands control to the reconnect path.
func (ws *MarketWebSocket) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, ws.pongTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() == nil {
				ws.log.Error().Err(err).Msg("Keepalive ping unanswered, dropping connection")
				_ = conn.Close(websocket.StatusGoingAway, "keepalive timeout")
			}
			return
		}
	}
}

// handleMessage parses one feed frame. Bad frames are dropped and
// logged; one corrupt print must never stall the stream.
func (ws *MarketWebSocket) handleMessage(message []byte) {
	var w wireTick
	if err := json.Unmarshal(message, &w); err != nil {
		ws.log.Warn().Err(err).Str("message", string(message)).Msg("Dropping unparseable feed frame")
		return
	}
	if w.Symbol == "" {
		// Heartbeats and channel acks arrive on the same socket.
		return
	}

	tick, err := parseWireTick(w)
	if err != nil {
		ws.log.Warn().Err(err).Msg("Dropping invalid tick")
		return
	}

	select {
	case ws.ticks <- tick:
	default:
		ws.log.Warn().Str("symbol", tick.Symbol.String()).Msg("Tick channel full, dropping tick")
	}
}

// reconnectLoop re-dials with exponential backoff and replays the
// subscription. FATAL is reached only after the attempt budget runs
// out, and it closes the tick channel so consumers see a definitive
// end of stream.
func (ws *MarketWebSocket) reconnectLoop() {
	ws.setState(domain.StreamReconnecting)

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		ws.mu.RLock()
		stopped := ws.stopped
		ws.mu.RUnlock()
		if stopped {
			return
		}

		delay := backoffDelay(attempt)
		ws.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to market stream")
		time.Sleep(delay)

		if err := ws.dial(context.Background()); err != nil {
			ws.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
			continue
		}

		ws.mu.RLock()
		conn := ws.conn
		connCtx := ws.connCtx
		symbols := append([]domain.Symbol(nil), ws.symbols...)
		ws.mu.RUnlock()

		if len(symbols) > 0 {
			if err := ws.sendSubscribe(connCtx, conn, symbols); err != nil {
				ws.log.Error().Err(err).Msg("Resubscribe failed, dropping connection")
				conn.Close(websocket.StatusNormalClosure, "resubscribe failed")
				continue
			}
		}

		ws.log.Info().Int("attempt", attempt).Msg("Market stream reconnected")
		go ws.readMessages(connCtx)
		go ws.keepalive(connCtx, conn)
		return
	}

	ws.log.Error().Int("attempts", maxReconnectAttempts).Msg("Market stream reconnect budget exhausted")
	ws.setState(domain.StreamFatal)
	ws.closeTicks()
}

// backoffDelay is baseDelay * 2^(attempt-1), capped at the maximum.
func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
