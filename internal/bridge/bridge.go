// Package bridge exposes an Electrum server over WebSocket. Every
// WebSocket client gets its own TCP or TLS connection to the server; each
// text message is one line of the Electrum protocol in either direction.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/pkg/logging"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// Defaults
const (
	DefaultDialAttempts = 3
	DefaultDialTimeout  = 10 * time.Second

	readLimit    = 1 << 20
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Config configures the bridge.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":50003".
	Listen string

	// ElectrumServer is the downstream server, host:port.
	ElectrumServer string
	UseTLS         bool

	// DialAttempts bounds the downstream dials made for one client.
	DialAttempts int
	DialTimeout  time.Duration
	// DialDelay is the pause between failed dials.
	DialDelay time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Server is the WebSocket to Electrum bridge.
type Server struct {
	cfg     Config
	log     *logging.Logger
	breaker *gobreaker.CircuitBreaker

	server   *http.Server
	listener net.Listener

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

// New creates a bridge.
func New(cfg Config) *Server {
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = DefaultDialAttempts
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.DialDelay <= 0 {
		cfg.DialDelay = time.Second
	}
	log := logging.GetDefault().Component("bridge")
	return &Server{
		cfg:     cfg,
		log:     log,
		breaker: backend.NewCircuitBreaker("electrum-downstream", log),
		clients: make(map[string]*client),
	}
}

// Handler returns the HTTP handler serving WebSocket upgrades on any path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleWS)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("bridge server error", "error", err)
		}
	}()

	s.log.Info("bridge started",
		"addr", listener.Addr().String(),
		"electrum", s.cfg.ElectrumServer,
		"tls", s.cfg.UseTLS)
	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Listen
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stop shuts the HTTP server down and closes every client.
func (s *Server) Stop() error {
	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)
	}

	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	id := uuid.New().String()
	log := s.log.With("conn", id[:8])

	down, err := s.dialDownstream(r.Context(), log)
	if err != nil {
		log.Warn("electrum server unreachable, closing client", "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "electrum server unreachable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	c := &client{id: id, ws: conn, down: down, log: log}
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
	log.Info("client connected", "remote", r.RemoteAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := c.run()
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		log.Info("client disconnected", "reason", err)
	}()
}

// dialDownstream dials the Electrum server through the breaker, retrying
// up to DialAttempts times.
func (s *Server) dialDownstream(ctx context.Context, log *logging.Logger) (net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.DialAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.DialDelay):
			}
		}

		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.dial(ctx)
		})
		if err == nil {
			return res.(net.Conn), nil
		}
		lastErr = err
		log.Debug("downstream dial failed", "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (s *Server) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	if !s.cfg.UseTLS {
		return dialer.DialContext(ctx, "tcp", s.cfg.ElectrumServer)
	}
	host, _, err := net.SplitHostPort(s.cfg.ElectrumServer)
	if err != nil {
		return nil, err
	}
	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
	return tlsDialer.DialContext(ctx, "tcp", s.cfg.ElectrumServer)
}

// client is one WebSocket client and its downstream connection.
type client struct {
	id   string
	ws   *websocket.Conn
	down net.Conn
	log  *logging.Logger

	writeMu   sync.Mutex // serialises WebSocket writes
	closeOnce sync.Once
}

var errDownstreamClosed = errors.New("electrum server closed the connection")

// run pumps messages both ways until either side goes away.
func (c *client) run() error {
	defer c.close()

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(c.upstream)
	g.Go(c.downstream)
	g.Go(func() error { return c.keepalive(ctx) })
	go func() {
		<-ctx.Done()
		c.close()
	}()
	return g.Wait()
}

// upstream forwards each WebSocket message as one line to the server.
func (c *client) upstream() error {
	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		if _, err := c.down.Write(append(bytes.TrimRight(message, "\r\n"), '\n')); err != nil {
			return fmt.Errorf("electrum write: %w", err)
		}
	}
}

// downstream splits the server stream into lines and sends each non-empty
// line as one text message.
func (c *client) downstream() error {
	r := bufio.NewReader(c.down)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// A trailing partial line is never a complete response.
			return errDownstreamClosed
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if err := c.write(websocket.TextMessage, line); err != nil {
			return fmt.Errorf("websocket write: %w", err)
		}
	}
}

func (c *client) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("websocket ping: %w", err)
			}
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		c.ws.Close()
		c.down.Close()
	})
}
