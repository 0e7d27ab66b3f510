// Package streamer implements the Market-Data Streamer: a single
// reconnecting WebSocket dialer against the upstream book.<instrument>.100ms
// channel, decoding deltas into internal/orderbook.Book instances and
// forwarding the raw frame to the Fan-out Server. Grounded on the
// teacher's internal/exchange/ws.go (exponential backoff reconnect,
// ping loop, read-deadline detection of a silent server, one mutex-
// guarded subscription set re-sent on reconnect) adapted from
// Polymarket's book/price_change event split to Deribit's single
// book.<instrument>.100ms channel carrying both snapshots and deltas.
package streamer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sonugupta2001/trading-gateway/internal/orderbook"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// Forwarder hands the raw, unparsed book update frame to the Fan-out
// Server so downstream subscribers see exactly what the upstream sent.
type Forwarder interface {
	Broadcast(instrument string, payload []byte)
}

type level struct {
	Price float64
	Qty   float64
}

func (l *level) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.Price, l.Qty = pair[0], pair[1]
	return nil
}

type bookUpdate struct {
	Type           string  `json:"type"` // "snapshot" or "change"
	InstrumentName string  `json:"instrument_name"`
	Bids           []level `json:"bids"`
	Asks           []level `json:"asks"`
}

type subscriptionNotification struct {
	Method string `json:"method"`
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

// Streamer dials the upstream market-data WebSocket and maintains one
// orderbook.Book per subscribed instrument. It satisfies both
// risk.BookLookup and pricewatch.BookLookup so the same instance can be
// wired directly into both components.
type Streamer struct {
	url      string
	forward  Forwarder
	logger   *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	booksMu sync.RWMutex
	books   map[string]*orderbook.Book

	subMu sync.RWMutex
	subs  map[string]bool
}

// New creates a Market-Data Streamer against wsURL (e.g.
// wss://test.deribit.com/ws/api/v2). forward may be nil if no fan-out
// server is wired, in which case updates are still applied to books but
// never republished downstream.
func New(wsURL string, forward Forwarder, logger *slog.Logger) *Streamer {
	return &Streamer{
		url:     wsURL,
		forward: forward,
		logger:  logger.With("component", "streamer"),
		books:   make(map[string]*orderbook.Book),
		subs:    make(map[string]bool),
	}
}

// SetForwarder wires the Fan-out Server after construction, since the
// engine builds the streamer before the fan-out server exists.
func (s *Streamer) SetForwarder(forward Forwarder) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.forward = forward
}

// Book satisfies risk.BookLookup / pricewatch.BookLookup.
func (s *Streamer) Book(instrument string) (*orderbook.Book, bool) {
	s.booksMu.RLock()
	defer s.booksMu.RUnlock()
	b, ok := s.books[instrument]
	return b, ok
}

// Subscribe adds an instrument to the tracked set and, if connected,
// sends the subscribe request immediately; otherwise it's sent on the
// next (re)connect.
func (s *Streamer) Subscribe(instrument string) {
	s.booksMu.Lock()
	if _, ok := s.books[instrument]; !ok {
		s.books[instrument] = orderbook.New()
	}
	s.booksMu.Unlock()

	s.subMu.Lock()
	s.subs[instrument] = true
	s.subMu.Unlock()

	_ = s.sendSubscribe([]string{instrument})
}

// Run connects and maintains the connection with exponential backoff.
// Blocks until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("market data stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *Streamer) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	s.logger.Info("market data stream connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(msg)
	}
}

func (s *Streamer) resubscribeAll() error {
	s.subMu.RLock()
	instruments := make([]string, 0, len(s.subs))
	for id := range s.subs {
		instruments = append(instruments, id)
	}
	s.subMu.RUnlock()
	if len(instruments) == 0 {
		return nil
	}
	return s.sendSubscribe(instruments)
}

func (s *Streamer) sendSubscribe(instruments []string) error {
	channels := make([]string, len(instruments))
	for i, inst := range instruments {
		channels[i] = "book." + inst + ".100ms"
	}
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "public/subscribe",
		"params":  map[string]interface{}{"channels": channels},
	}
	return s.writeJSON(msg)
}

func (s *Streamer) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("market data stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Streamer) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Streamer) dispatch(raw []byte) {
	var note subscriptionNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		s.logger.Debug("ignoring non-json stream message")
		return
	}
	if note.Method != "subscription" {
		return
	}

	var update bookUpdate
	if err := json.Unmarshal(note.Params.Data, &update); err != nil {
		s.logger.Error("unmarshal book update", "error", err, "channel", note.Params.Channel)
		return
	}

	book := s.ensureBook(update.InstrumentName)
	if update.Type == "snapshot" {
		book.Clear()
	}
	for _, lvl := range update.Bids {
		book.UpdateBid(lvl.Price, lvl.Qty)
	}
	for _, lvl := range update.Asks {
		book.UpdateAsk(lvl.Price, lvl.Qty)
	}

	s.connMu.Lock()
	forward := s.forward
	s.connMu.Unlock()
	if forward != nil {
		forward.Broadcast(update.InstrumentName, raw)
	}
}

func (s *Streamer) ensureBook(instrument string) *orderbook.Book {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	b, ok := s.books[instrument]
	if !ok {
		b = orderbook.New()
		s.books[instrument] = b
	}
	return b
}
