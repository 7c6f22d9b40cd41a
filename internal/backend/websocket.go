package backend

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klingon-exchange/xpubgraph/pkg/logging"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

// WebSocket transport defaults.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
	wsWriteWait                 = 10 * time.Second
	wsHandshakeTimeout          = 10 * time.Second
	messageBuffer               = 256
)

// WSConfig configures a WSTransport.
type WSConfig struct {
	URL string

	// MaxReconnectAttempts bounds redials after a lost connection. The
	// delay before attempt n is ReconnectDelay * n.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// RateLimit caps outgoing batches per second. Zero disables pacing.
	RateLimit int
}

// WSTransport carries Electrum JSON batches over a WebSocket, typically to
// the bridge in internal/bridge.
type WSTransport struct {
	cfg     WSConfig
	dialer  *websocket.Dialer
	breaker *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
	logger  *logging.Logger

	mu         gosync.Mutex // guards conn and generation, serialises writes
	conn       *websocket.Conn
	generation uint64

	messages   chan []byte
	reconnects chan uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce gosync.Once
	wg        gosync.WaitGroup
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a WebSocket transport. Connect must be called
// before Send.
func NewWSTransport(cfg WSConfig) *WSTransport {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.RateLimit > 0 {
		limiter = ratelimit.New(cfg.RateLimit)
	}

	logger := logging.GetDefault().Component("electrum-ws")
	ctx, cancel := context.WithCancel(context.Background())

	return &WSTransport{
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
		breaker:    NewCircuitBreaker("electrum-ws", logger),
		limiter:    limiter,
		logger:     logger,
		messages:   make(chan []byte, messageBuffer),
		reconnects: make(chan uint64, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Connect dials the server and starts the read loop. Only the first
// connection is reported by returning nil; later ones are signalled on
// Reconnects.
func (t *WSTransport) Connect(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.generation++
	t.mu.Unlock()

	t.logger.Info("connected", "url", t.cfg.URL)

	t.wg.Add(1)
	go t.readLoop(conn)
	return nil
}

// Send writes a batch as one JSON array frame and returns the generation of
// the connection it was written to.
func (t *WSTransport) Send(ctx context.Context, batch []Request) (uint64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal batch: %w", err)
	}

	t.limiter.Take()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return 0, ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, fmt.Errorf("failed to write batch: %w", err)
	}
	return t.generation, nil
}

// Messages returns the channel of received frames.
func (t *WSTransport) Messages() <-chan []byte {
	return t.messages
}

// Reconnects returns the channel that receives the generation of each
// successful redial. Only the newest undelivered generation is kept.
func (t *WSTransport) Reconnects() <-chan uint64 {
	return t.reconnects
}

// Close closes the connection and stops reconnecting.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()

		t.mu.Lock()
		if t.conn != nil {
			t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			t.conn.Close()
			t.conn = nil
		}
		t.mu.Unlock()
	})
	t.wg.Wait()
	return nil
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	result, err := t.breaker.Execute(func() (interface{}, error) {
		conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
		return conn, err
	})
	if err != nil {
		return nil, err
	}
	return result.(*websocket.Conn), nil
}

// readLoop forwards frames until the connection drops, then redials. It
// owns the messages channel and closes it when it gives up.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()
	defer close(t.messages)

	for {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if t.ctx.Err() == nil {
					t.logger.Warn("connection lost", "error", err)
				}
				break
			}
			select {
			case t.messages <- data:
			case <-t.ctx.Done():
				return
			}
		}

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()

		if t.ctx.Err() != nil {
			return
		}

		next, err := t.reconnect()
		if err != nil {
			t.logger.Error("giving up on connection", "url", t.cfg.URL, "error", err)
			return
		}
		conn = next
	}
}

func (t *WSTransport) reconnect() (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxReconnectAttempts; attempt++ {
		delay := t.cfg.ReconnectDelay * time.Duration(attempt)
		t.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-t.ctx.Done():
			return nil, t.ctx.Err()
		}

		conn, err := t.dial(t.ctx)
		if err != nil {
			lastErr = err
			t.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		t.mu.Lock()
		if t.ctx.Err() != nil {
			t.mu.Unlock()
			conn.Close()
			return nil, t.ctx.Err()
		}
		t.conn = conn
		t.generation++
		generation := t.generation
		t.mu.Unlock()

		t.logger.Info("reconnected", "url", t.cfg.URL, "attempt", attempt, "generation", generation)
		// readLoop is the only sender, so the buffer has room once drained.
		select {
		case <-t.reconnects:
		default:
		}
		t.reconnects <- generation
		return conn, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectionLost, t.cfg.MaxReconnectAttempts, lastErr)
}
