// Package fanout implements the Fan-out Server: a TLS WebSocket endpoint
// that republishes market-data frames to subscribed downstream clients.
// Grounded on the teacher's internal/api/server.go + internal/api/stream.go
// (Hub/Client register/unregister, buffered send channel, read/write
// pumps with ping/pong deadlines) and on
// original_source/src/websockets/WebSocketServer.* for the per-instrument
// subscription-set semantics (a client subscribes by sending
// {"type":"subscribe","instrument":"..."}; broadcast iterates only that
// instrument's subscriber set and is best-effort — a failing connection
// is dropped, not allowed to abort the broadcast) and for the TLS posture
// (no_sslv2/no_sslv3/single_dh_use/default_workarounds maps onto
// tls.Config.MinVersion = tls.VersionTLS12, since crypto/tls never
// supports SSLv2/SSLv3 in the first place).
package fanout

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sonugupta2001/trading-gateway/internal/config"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MessageHandler is invoked with every raw frame a downstream client
// sends, after subscribe/unsubscribe bookkeeping has already been
// applied — mirroring original_source's messageHandler hook forwarding
// every inbound payload regardless of type.
type MessageHandler func(client *Client, raw []byte)

// Server is the Fan-out Server. subscriptions is guarded by mu, the last
// lock in the gateway-wide Session → Risk → Manager.orders → Book →
// Fan-out.subscriptions ordering.
type Server struct {
	cfg    config.FanOutConfig
	http   *http.Server
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]map[*Client]bool

	onMessage MessageHandler
}

// Client is one connected downstream subscriber.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	sendMu sync.Mutex // guards closed and every send on/close of send
	closed bool
}

// closeSend closes c.send exactly once. Two concurrent Broadcast calls can
// both observe a full send buffer for the same client and race to close it;
// sync.Once makes the close idempotent instead of panicking.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		defer c.sendMu.Unlock()
		c.closed = true
		close(c.send)
	})
}

// trySend queues payload without blocking. It reports false when the send
// buffer is full or send has already been closed by another broadcast.
func (c *Client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// New creates a Fan-out Server listening on cfg.Port, serving TLS from
// cfg.CertFile/cfg.KeyFile.
func New(cfg config.FanOutConfig, logger *slog.Logger) *Server {
	s := &Server{
		cfg:           cfg,
		logger:        logger.With("component", "fanout"),
		subscriptions: make(map[string]map[*Client]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.X25519, tls.CurveP256,
			},
		},
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// SetMessageHandler registers the hook invoked for every raw inbound
// client frame.
func (s *Server) SetMessageHandler(h MessageHandler) {
	s.onMessage = h
}

// Start begins serving TLS. Blocks until Stop is called or the listener
// fails.
func (s *Server) Start() error {
	s.logger.Info("fan-out server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("fanout server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping fan-out server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Broadcast sends payload to every client subscribed to instrument.
// Best-effort: a client whose send buffer is full is dropped rather than
// allowed to stall the broadcast, matching original_source's
// per-connection try/catch around each send.
func (s *Server) Broadcast(instrument string, payload []byte) {
	s.mu.Lock()
	subs := s.subscriptions[instrument]
	clients := make([]*Client, 0, len(subs))
	for c := range subs {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if !c.trySend(payload) {
			s.logger.Warn("dropping slow subscriber", "instrument", instrument)
			s.removeClient(c)
			c.closeSend()
		}
	}
}

// IsSubscribed reports whether c is currently a subscriber of instrument,
// per spec's is_subscribed(connection, instrument) query.
func (s *Server) IsSubscribed(c *Client, instrument string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[instrument][c]
}

// hasSubscribers reports whether any client currently subscribes to
// instrument, used by tests to wait for subscribe/unsubscribe bookkeeping
// without needing a handle on the specific *Client.
func (s *Server) hasSubscribers(instrument string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions[instrument]) > 0
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{server: s, conn: conn, send: make(chan []byte, 256)}
	s.logger.Info("fan-out client connected")

	go client.writePump()
	go client.readPump()
}

type subscribeFrame struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
}

// AddSubscription registers c as a subscriber of instrument. Exported per
// spec's add_subscription operation; within this repository it is called
// by the subscribe frame handler in readPump.
func (s *Server) AddSubscription(instrument string, c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriptions[instrument] == nil {
		s.subscriptions[instrument] = make(map[*Client]bool)
	}
	s.subscriptions[instrument][c] = true
}

// RemoveSubscription removes c from instrument's subscriber set. Exported
// per spec's remove_subscription operation.
func (s *Server) RemoveSubscription(instrument string, c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions[instrument], c)
}

// removeClient erases c from every instrument's subscriber set, matching
// original_source's onClose behavior.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for instrument, subs := range s.subscriptions {
		delete(subs, c)
		if len(subs) == 0 {
			delete(s.subscriptions, instrument)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("fan-out client websocket error", "error", err)
			}
			break
		}

		start := time.Now()

		var frame subscribeFrame
		if err := json.Unmarshal(raw, &frame); err == nil && frame.Instrument != "" {
			switch frame.Type {
			case "subscribe":
				c.server.AddSubscription(frame.Instrument, c)
			case "unsubscribe":
				c.server.RemoveSubscription(frame.Instrument, c)
			}
		}

		if c.server.onMessage != nil {
			c.server.onMessage(c, raw)
		}

		c.server.logger.Debug("fan-out message handled", "latency_us", time.Since(start).Microseconds())
	}
}
