// Package orders implements the Order Manager: place/cancel/modify,
// admission rate limiting, the active-order table, and fill bookkeeping.
// Grounded on original_source/src/orders/OrderManager.* for the flow
// order (rate limit → risk validate → refresh session → submit → map
// response → update position → track) and on the teacher's
// internal/exchange/client.go for the resty request/response shape
// (SetResult, status check, %w-wrapped errors).
package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Sonugupta2001/trading-gateway/internal/exchange"
	"github.com/Sonugupta2001/trading-gateway/internal/model"
	"github.com/Sonugupta2001/trading-gateway/internal/risk"
)

// SessionManager is the subset of *session.Manager the Order Manager
// needs: the current bearer token and the ability to refresh it before a
// submission, per original_source's placeOrder calling authManager's
// refresh step ahead of every submit.
type SessionManager interface {
	Token() string
	Refresh(ctx context.Context) error
}

// RiskValidator is the subset of *risk.Manager the Order Manager depends
// on, kept as an interface so orders doesn't need risk's BookLookup wiring.
type RiskValidator interface {
	Validate(order *model.Order) error
	UpdatePosition(instrument string, signedAmount, price float64)
	Positions() []model.Position
	SetLimits(limits risk.Limits)
}

// Watcher hands a conditional order to the Price-Watch Integrator instead
// of submitting it immediately.
type Watcher interface {
	Watch(order *model.Order)
	Unwatch(clientOrderID string) bool
}

// orderResult mirrors the upstream private/buy, private/sell, and
// private/cancel result shapes the fields the Order Manager reads.
type orderResult struct {
	OrderID      string  `json:"order_id"`
	OrderState   string  `json:"order_state"`
	FilledAmount float64 `json:"filled_amount"`
	AveragePrice float64 `json:"average_price"`
}

// Manager is the Order Manager. Lock order within this package: mu guards
// both the active-order table and any in-flight submission's bookkeeping,
// consistent with the gateway-wide Session → Risk → Manager.orders → Book
// → Fan-out.subscriptions ordering documented in internal/model/doc.go.
type Manager struct {
	http     *resty.Client
	sessions SessionManager
	risk     RiskValidator
	watcher  Watcher
	logger   *slog.Logger

	rate *rollingWindow

	mu     sync.Mutex
	active map[string]*model.Order // keyed by ClientOrderID
}

// New creates an Order Manager. watcher may be nil if the deployment never
// places conditional orders; PlaceConditional then fails closed.
func New(http *resty.Client, sessions SessionManager, riskEngine RiskValidator, watcher Watcher, limits risk.Limits, logger *slog.Logger) *Manager {
	return &Manager{
		http:     http,
		sessions: sessions,
		risk:     riskEngine,
		watcher:  watcher,
		logger:   logger.With("component", "orders"),
		rate:     newRollingWindow(limits.MaxOrdersPerSecond),
		active:   make(map[string]*model.Order),
	}
}

// SetRiskLimits updates both the risk engine's limits and the admission
// rate limiter's cap in one call, matching spec's set_risk_limits
// operation.
func (m *Manager) SetRiskLimits(limits risk.Limits) {
	m.risk.SetLimits(limits)
	m.rate.setLimit(limits.MaxOrdersPerSecond)
}

// Positions returns the Risk Engine's tracked positions.
func (m *Manager) Positions() []model.Position {
	return m.risk.Positions()
}

// Place submits an order synchronously: rate limit, risk validation,
// session refresh, then the REST submission itself — the Order Manager
// does not hand this to the Execution Worker, which is reserved for
// watch-released orders.
func (m *Manager) Place(ctx context.Context, order *model.Order) error {
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	order.Status = model.StatusNew

	if !m.rate.Allow() {
		order.Status = model.StatusRejected
		order.RejectionReason = "rate limit exceeded"
		return model.ErrRateLimited("order admission rate limit exceeded")
	}
	if err := m.risk.Validate(order); err != nil {
		order.Status = model.StatusRejected
		order.RejectionReason = err.Error()
		return err
	}
	if err := m.sessions.Refresh(ctx); err != nil {
		order.Status = model.StatusFailed
		order.RejectionReason = "session refresh failed"
		return err
	}

	m.track(order)
	if err := m.submit(ctx, order); err != nil {
		return err
	}
	return nil
}

// PlaceConditional registers a limit order with the Price-Watch
// Integrator instead of submitting it immediately; it still passes rate
// limiting and risk validation up front; execution happens later on the
// watcher's trigger, via the Execution Worker.
func (m *Manager) PlaceConditional(order *model.Order) error {
	if m.watcher == nil {
		return model.ErrShuttingDown("no price-watch integrator configured")
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	order.Status = model.StatusNew

	if !m.rate.Allow() {
		order.Status = model.StatusRejected
		order.RejectionReason = "rate limit exceeded"
		return model.ErrRateLimited("order admission rate limit exceeded")
	}
	if err := m.risk.Validate(order); err != nil {
		order.Status = model.StatusRejected
		order.RejectionReason = err.Error()
		return err
	}

	order.Status = model.StatusPending
	m.track(order)
	m.watcher.Watch(order)
	return nil
}

// Cancel cancels a tracked order. A still-watched conditional order is
// simply unwatched; an already-submitted order is cancelled upstream via
// private/cancel.
func (m *Manager) Cancel(ctx context.Context, clientOrderID string) error {
	order, ok := m.lookup(clientOrderID)
	if !ok {
		return model.ErrNotFound("no such order: " + clientOrderID)
	}
	if order.Status.Terminal() {
		return model.ErrNotFound("order already in a terminal state")
	}

	if m.watcher != nil && m.watcher.Unwatch(clientOrderID) {
		m.mu.Lock()
		order.Status = model.StatusCancelled
		m.mu.Unlock()
		m.untrackIfTerminal(order)
		return nil
	}
	if order.OrderID == "" {
		return model.ErrNotFound("order has no upstream id yet")
	}

	req := exchange.NewRequest("private/cancel", map[string]interface{}{"order_id": order.OrderID})
	var envelope exchange.Response
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+m.sessions.Token()).
		SetBody(req).
		SetResult(&envelope).
		Post("private/cancel")
	if err != nil || resp.IsError() {
		return model.ErrTransportFailed("cancel request failed")
	}
	if envelope.Error != nil {
		return model.ErrExchangeRejected(envelope.Error.Code, envelope.Error.Message)
	}

	m.mu.Lock()
	order.Status = model.StatusCancelled
	m.mu.Unlock()
	m.untrackIfTerminal(order)
	return nil
}

// Modify cancels then re-places an order with new amount/price. Fails
// closed: if the cancel fails, the modification is aborted and the
// original order is left untouched, matching
// original_source/src/orders/OrderManager.cpp's modifyOrder.
func (m *Manager) Modify(ctx context.Context, clientOrderID string, newAmount, newPrice float64) error {
	order, ok := m.lookup(clientOrderID)
	if !ok {
		return model.ErrNotFound("no such order: " + clientOrderID)
	}
	if err := m.Cancel(ctx, clientOrderID); err != nil {
		return model.ErrExchangeRejected(0, "modification aborted: "+err.Error())
	}

	replacement := order.Clone()
	replacement.ClientOrderID = uuid.NewString()
	replacement.OrderID = ""
	replacement.Amount = newAmount
	replacement.Price = newPrice
	replacement.FilledAmount = 0
	replacement.AverageFilledPrice = 0
	return m.Place(ctx, replacement)
}

// HandleFill is the FillCallback registered with the Execution Worker for
// watch-released orders. The worker invokes this with the *triggered
// clone* the Price-Watch Integrator submitted (see pricewatch.checkConditions),
// not the pointer tracked in the Active-Order Table, so the update is
// applied to the tracked entry looked up by ClientOrderID — otherwise the
// table would never observe the fill at all.
func (m *Manager) HandleFill(order *model.Order, filledAmount, averagePrice float64) {
	m.mu.Lock()
	tracked, ok := m.active[order.ClientOrderID]
	m.mu.Unlock()
	if !ok {
		m.applyFill(order, filledAmount, averagePrice)
		return
	}
	tracked.OrderID = order.OrderID
	tracked.Status = order.Status
	m.applyFill(tracked, filledAmount, averagePrice)
	m.untrackIfTerminal(tracked)
}

func (m *Manager) track(order *model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[order.ClientOrderID] = order
}

// untrackIfTerminal removes the order from the Active-Order Table once it
// reaches a terminal status, per the §3 data model invariant.
func (m *Manager) untrackIfTerminal(order *model.Order) {
	if !order.Status.Terminal() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, order.ClientOrderID)
}

func (m *Manager) lookup(clientOrderID string) (*model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.active[clientOrderID]
	return o, ok
}

func (m *Manager) submit(ctx context.Context, order *model.Order) error {
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
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+m.sessions.Token()).
		SetBody(req).
		SetResult(&envelope).
		Post(endpoint)
	if err != nil || resp.IsError() {
		order.Status = model.StatusFailed
		order.RejectionReason = "transport failure"
		m.logger.Error("order submission transport failure", "client_order_id", order.ClientOrderID, "error", err)
		m.untrackIfTerminal(order)
		return model.ErrTransportFailed("order submission failed")
	}
	if envelope.Error != nil {
		order.Status = model.StatusRejected
		order.RejectionReason = envelope.Error.Message
		m.untrackIfTerminal(order)
		return model.ErrExchangeRejected(envelope.Error.Code, envelope.Error.Message)
	}

	var result orderResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		order.Status = model.StatusFailed
		m.untrackIfTerminal(order)
		return model.ErrProtocolMalformed("malformed order response")
	}

	order.OrderID = result.OrderID
	order.Status = model.Status(result.OrderState)

	if order.Status == model.StatusFilled || order.Status == model.StatusPartiallyFilled {
		m.applyFill(order, result.FilledAmount, result.AveragePrice)
	}
	m.untrackIfTerminal(order)
	return nil
}

func (m *Manager) applyFill(order *model.Order, filledAmount, averagePrice float64) {
	order.FilledAmount = filledAmount
	order.AverageFilledPrice = averagePrice

	signed := filledAmount
	if order.Side == model.Sell {
		signed = -filledAmount
	}
	m.risk.UpdatePosition(order.Instrument, signed, averagePrice)
}

// CancelAll is a best-effort shutdown safety net: it cancels every
// tracked order that isn't already terminal, logging failures rather than
// returning them, matching the teacher's Engine.Stop() cancel-all
// behavior.
func (m *Manager) CancelAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id, o := range m.active {
		if !o.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Cancel(ctx, id); err != nil {
			m.logger.Error("cancel-all failed for order", "client_order_id", id, "error", err)
		}
	}
}
