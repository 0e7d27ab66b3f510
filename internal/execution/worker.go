// Package execution implements the Execution Worker: a single goroutine
// draining an order channel, submitting to the upstream exchange, and
// invoking a caller-supplied fill callback. Grounded on
// original_source/src/execution/ExecutionManager.* for the lifecycle
// (start/stop/executionLoop/handleExecution, latency measured with
// time.Since) and on the teacher's internal/risk/manager.go Run(ctx) +
// buffered-channel idiom for the Go-idiomatic worker shape.
package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Sonugupta2001/trading-gateway/internal/exchange"
	"github.com/Sonugupta2001/trading-gateway/internal/model"
	"github.com/Sonugupta2001/trading-gateway/internal/session"
)

// FillCallback is invoked on the worker goroutine after an order update
// that produced a fill. Worker holds no lock while calling it (the channel
// is the queue). A handler that calls back into Worker.Submit does not
// block: Submit returns an error instead when the queue is full.
type FillCallback func(order *model.Order, filledAmount, averagePrice float64)

// orderResult is the upstream private/buy, private/sell result shape.
type orderResult struct {
	OrderID      string  `json:"order_id"`
	OrderState   string  `json:"order_state"`
	FilledAmount float64 `json:"filled_amount"`
	AveragePrice float64 `json:"average_price"`
}

// Worker is the single-consumer order execution loop. The queue "lock" is
// the channel itself, so nothing is held across the network call.
type Worker struct {
	http     *resty.Client
	sessions *session.Manager
	logger   *slog.Logger

	queue    chan *model.Order
	onFill   FillCallback
	onFillMu sync.RWMutex

	running runFlag
	done    chan struct{}
	cancel  context.CancelFunc
}

// runFlag guards the worker's running state; Start/Stop are the only
// callers and the spec requires them serialized by the caller, but the
// flag is still mutex-guarded since Submit reads it concurrently.
type runFlag struct {
	mu  sync.Mutex
	val bool
}

func (r *runFlag) set(v bool) {
	r.mu.Lock()
	r.val = v
	r.mu.Unlock()
}

func (r *runFlag) get() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.val
}

// New creates an Execution Worker. queueSize bounds the order channel; a
// value <= 0 selects a default buffer of 256 orders. The queue is bounded
// either way: Submit fails once the buffer is full.
func New(http *resty.Client, sessions *session.Manager, logger *slog.Logger, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Worker{
		http:     http,
		sessions: sessions,
		logger:   logger.With("component", "execution"),
		queue:    make(chan *model.Order, queueSize),
	}
}

// SetFillCallback registers the callback invoked on every fill/partial
// fill. Safe to call before Start.
func (w *Worker) SetFillCallback(cb FillCallback) {
	w.onFillMu.Lock()
	defer w.onFillMu.Unlock()
	w.onFill = cb
}

// Start spawns the worker goroutine. Idempotent: a second call while
// already running is a no-op.
func (w *Worker) Start(ctx context.Context) {
	if w.running.get() {
		return
	}
	w.running.set(true)
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		w.loop(runCtx)
	}()
	w.logger.Info("execution worker started")
}

// Stop signals shutdown and joins the worker goroutine. Idempotent.
// In-flight network calls are allowed to complete; Stop does not force-
// abort the current order's submission.
func (w *Worker) Stop() {
	if !w.running.get() {
		return
	}
	w.running.set(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
	w.logger.Info("execution worker stopped")
}

// Submit enqueues an order for execution. Returns model.ErrShuttingDown if
// the worker isn't running.
func (w *Worker) Submit(order *model.Order) error {
	if !w.running.get() {
		return model.ErrShuttingDown("execution worker is not running")
	}
	select {
	case w.queue <- order:
		return nil
	default:
		return model.ErrShuttingDown("execution queue is full")
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case order := <-w.queue:
			w.handle(ctx, order)
		}
	}
}

func (w *Worker) handle(ctx context.Context, order *model.Order) {
	start := time.Now()
	order.Status = model.StatusExecuting

	endpoint := "private/" + string(order.Side)
	params := map[string]interface{}{
		"instrument_name": order.Instrument,
		"amount":          order.Amount,
		"type":            string(order.Type),
	}
	if order.Type == model.Limit {
		params["price"] = order.Price
	}

	req := exchange.NewRequest(endpoint, params)

	var envelope exchange.Response
	// Detached from Stop's cancellation so an in-flight submission completes.
	resp, err := w.http.R().
		SetContext(context.WithoutCancel(ctx)).
		SetHeader("Authorization", "Bearer "+w.sessions.Token()).
		SetBody(req).
		SetResult(&envelope).
		Post(endpoint)

	latency := time.Since(start)
	w.logger.Info("order submission latency", "order_id", order.OrderID, "ms", latency.Milliseconds())

	if err != nil || resp.IsError() {
		order.Status = model.StatusFailed
		w.logger.Error("order submission transport failure", "client_order_id", order.ClientOrderID, "error", err)
		return
	}
	if envelope.Error != nil {
		order.Status = model.StatusFailed
		order.RejectionReason = envelope.Error.Message
		w.logger.Error("order submission rejected", "client_order_id", order.ClientOrderID, "message", envelope.Error.Message)
		return
	}

	var result orderResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		order.Status = model.StatusFailed
		w.logger.Error("order response malformed", "error", err)
		return
	}

	order.OrderID = result.OrderID
	order.Status = model.Status(result.OrderState)
	order.FilledAmount = result.FilledAmount
	order.AverageFilledPrice = result.AveragePrice

	if order.Status == model.StatusFilled || order.Status == model.StatusPartiallyFilled {
		w.onFillMu.RLock()
		cb := w.onFill
		w.onFillMu.RUnlock()
		if cb != nil {
			cb(order, result.FilledAmount, result.AveragePrice)
		}
	}
}
