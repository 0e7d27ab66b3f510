// Package engine is the central orchestrator of the trading gateway. It
// wires together all eight components — session, risk, order book
// (via the streamer), execution, price-watch, orders, market-data
// streamer, and fan-out — and owns their combined start/stop lifecycle.
// Grounded on the teacher's internal/engine/engine.go for the overall
// shape: a context derived from one root cancel, one goroutine per
// long-running subsystem tracked by a sync.WaitGroup, and a Stop() that
// cancels, runs a cancel-all safety net, then waits.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Sonugupta2001/trading-gateway/internal/config"
	"github.com/Sonugupta2001/trading-gateway/internal/exchange"
	"github.com/Sonugupta2001/trading-gateway/internal/execution"
	"github.com/Sonugupta2001/trading-gateway/internal/fanout"
	"github.com/Sonugupta2001/trading-gateway/internal/orders"
	"github.com/Sonugupta2001/trading-gateway/internal/pricewatch"
	"github.com/Sonugupta2001/trading-gateway/internal/risk"
	"github.com/Sonugupta2001/trading-gateway/internal/session"
	"github.com/Sonugupta2001/trading-gateway/internal/streamer"
)

// Engine owns every component's lifecycle and the locks that order their
// interaction: Session → Risk → Manager.orders → Book → Fan-out.subscriptions,
// documented in internal/model/doc.go and honored by each package's own lock
// acquisition.
type Engine struct {
	cfg config.Config

	http      *resty.Client
	sessions  *session.Manager
	streamer  *streamer.Streamer
	riskMgr   *risk.Manager
	execWorker *execution.Worker
	watcher   *pricewatch.Watcher
	orderMgr  *orders.Manager
	fanoutSrv *fanout.Server

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component. The HTTP client, session manager, and risk
// engine are shared by execution, orders, and price-watch exactly once.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	httpClient := exchange.NewHTTPClient(cfg.Exchange)
	sessions := session.New(httpClient, cfg.Exchange, logger)

	mdStreamer := streamer.New(cfg.Exchange.WSURL, nil, logger)

	riskLimits := risk.Limits{
		MaxOrderSize:       cfg.Risk.MaxOrderSize,
		MaxPositionSize:    cfg.Risk.MaxPositionSize,
		MaxLeverage:        cfg.Risk.MaxLeverage,
		MinMargin:          cfg.Risk.MinMargin,
		MaxDailyLoss:       cfg.Risk.MaxDailyLoss,
		MaxOrdersPerSecond: cfg.Risk.MaxOrdersPerSecond,
	}
	riskMgr := risk.NewManager(riskLimits, mdStreamer, logger)

	execWorker := execution.New(httpClient, sessions, logger, 0)

	watcher := pricewatch.New(mdStreamer, execWorker, logger)

	orderMgr := orders.New(httpClient, sessions, riskMgr, watcher, riskLimits, logger)
	execWorker.SetFillCallback(orderMgr.HandleFill)

	fanoutSrv := fanout.New(cfg.FanOut, logger)
	mdStreamer.SetForwarder(fanoutSrv)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		http:       httpClient,
		sessions:   sessions,
		streamer:   mdStreamer,
		riskMgr:    riskMgr,
		execWorker: execWorker,
		watcher:    watcher,
		orderMgr:   orderMgr,
		fanoutSrv:  fanoutSrv,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start authenticates, then launches every long-running goroutine: the
// execution worker, the price-watch poller, the market-data streamer, and
// the fan-out server's accept loop.
func (e *Engine) Start() error {
	if err := e.sessions.Authenticate(e.ctx); err != nil {
		return err
	}

	e.execWorker.Start(e.ctx)
	e.watcher.Start(e.ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.streamer.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market data streamer error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.fanoutSrv.Start(); err != nil && e.ctx.Err() == nil {
			e.logger.Error("fan-out server error", "error", err)
		}
	}()

	e.logger.Info("gateway started")
	return nil
}

// Subscribe adds an instrument to the market-data stream, which also
// makes it available to the Risk Engine's leverage check and the
// Price-Watch Integrator's trigger predicates.
func (e *Engine) Subscribe(instrument string) {
	e.streamer.Subscribe(instrument)
}

// Orders exposes the Order Manager for callers placing/cancelling orders.
func (e *Engine) Orders() *orders.Manager {
	return e.orderMgr
}

// Stop cancels every goroutine's context, stops the execution worker and
// the price-watch poller, runs a cancel-all safety net against the
// exchange, shuts down the fan-out server's listener, then waits for the
// streamer and fan-out goroutines to exit. A second call is safe: the
// component stops are no-ops, and the cancel-all pass runs again over any
// orders still tracked.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.execWorker.Stop()
	e.watcher.Stop()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	e.orderMgr.CancelAll(cancelCtx)
	cancelCancel()

	if err := e.fanoutSrv.Stop(); err != nil {
		e.logger.Error("failed to stop fan-out server", "error", err)
	}

	e.wg.Wait()
	e.logger.Info("shutdown complete")
}
