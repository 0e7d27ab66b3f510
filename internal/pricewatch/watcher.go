// Package pricewatch implements the Price-Watch Integrator: a polling loop
// that holds pending limit orders until the current market price crosses
// their limit, then hands them to the Execution Worker priced at the
// trigger price. Grounded on
// original_source/src/market/MarketDataIntegrator.* (the watchLoop's
// 100ms poll, the watchedOrders table, and isPriceConditionMet's per-side
// predicate), adapted to the teacher's mutex-guarded-manager shape and a
// context-driven ticker loop instead of a sleep loop.
package pricewatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sonugupta2001/trading-gateway/internal/model"
	"github.com/Sonugupta2001/trading-gateway/internal/orderbook"
)

// pollInterval matches original_source's watchLoop sleep of 100ms between
// checkPriceConditions passes.
const pollInterval = 100 * time.Millisecond

// BookLookup resolves the current order book for an instrument so the
// watcher can read the prevailing price without importing how books are
// stored.
type BookLookup interface {
	Book(instrument string) (*orderbook.Book, bool)
}

// Submitter hands a priced order off to the Execution Worker. Implemented
// by *execution.Worker; kept as an interface so pricewatch doesn't import
// execution's full surface.
type Submitter interface {
	Submit(order *model.Order) error
}

type watch struct {
	order      *model.Order
	targetPrice float64
	watchedAt  time.Time
}

// Watcher holds orders whose trigger condition hasn't yet been met.
type Watcher struct {
	books  BookLookup
	worker Submitter
	logger *slog.Logger

	mu       sync.Mutex
	watching map[string]*watch // keyed by ClientOrderID

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Price-Watch Integrator. books and worker must be non-nil
// before Start is called.
func New(books BookLookup, worker Submitter, logger *slog.Logger) *Watcher {
	return &Watcher{
		books:    books,
		worker:   worker,
		logger:   logger.With("component", "pricewatch"),
		watching: make(map[string]*watch),
	}
}

// Watch registers an order to be released once its price condition is met.
// A market order has no condition to wait on: it is released on the first
// poll that finds an opposite-side price in its book.
func (w *Watcher) Watch(order *model.Order) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watching[order.ClientOrderID] = &watch{order: order, targetPrice: order.Price, watchedAt: time.Now()}
}

// Unwatch removes an order from the watch table, e.g. on cancellation.
// Returns true if the order was still pending.
func (w *Watcher) Unwatch(clientOrderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watching[clientOrderID]
	delete(w.watching, clientOrderID)
	return ok
}

// Pending reports whether an order is still waiting on its condition.
func (w *Watcher) Pending(clientOrderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watching[clientOrderID]
	return ok
}

// Start spawns the polling goroutine. Idempotent.
func (w *Watcher) Start(ctx context.Context) {
	if w.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		w.loop(runCtx)
	}()
	w.logger.Info("price watch started", "poll_interval_ms", pollInterval.Milliseconds())
}

// Stop signals shutdown and joins the polling goroutine.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.logger.Info("price watch stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkConditions()
		}
	}
}

func (w *Watcher) checkConditions() {
	triggered := w.collectTriggered()
	for _, v := range triggered {
		priced := v.order.Clone()
		priced.Price = v.targetPrice
		if err := w.worker.Submit(priced); err != nil {
			w.logger.Error("failed to submit triggered order", "client_order_id", priced.ClientOrderID, "error", err)
		}
	}
}

// collectTriggered removes and returns every watch whose condition is now
// met, along with the price that satisfied it. Removal happens under the
// same lock as the scan so a concurrent Unwatch can't race a trigger.
func (w *Watcher) collectTriggered() []triggeredWatch {
	w.mu.Lock()
	defer w.mu.Unlock()

	var triggered []triggeredWatch
	for id, v := range w.watching {
		book, ok := w.books.Book(v.order.Instrument)
		if !ok {
			continue
		}
		current, met := conditionMet(v.order, book)
		if !met {
			continue
		}
		triggered = append(triggered, triggeredWatch{order: v.order, targetPrice: current})
		delete(w.watching, id)
	}
	return triggered
}

type triggeredWatch struct {
	order       *model.Order
	targetPrice float64
}

// conditionMet implements original_source's isPriceConditionMet, reading
// the current best *opposite-side* price from the book (a buy watches the
// ask side it would cross, a sell watches the bid side it would cross): a
// market order always triggers; a buy limit triggers once that price falls
// to or below the order's price; a sell limit triggers once it rises to or
// above it.
func conditionMet(order *model.Order, book *orderbook.Book) (float64, bool) {
	current, ok := opposingPrice(order, book)
	if !ok {
		return 0, false
	}
	if order.Type == model.Market {
		return current, true
	}
	if order.Side == model.Buy {
		return current, current <= order.Price
	}
	return current, current >= order.Price
}

func opposingPrice(order *model.Order, book *orderbook.Book) (float64, bool) {
	if order.Side == model.Buy {
		ask := book.BestAsk()
		return ask, ask > 0
	}
	bid := book.BestBid()
	return bid, bid > 0
}
