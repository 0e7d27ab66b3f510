package pricewatch

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Sonugupta2001/trading-gateway/internal/model"
	"github.com/Sonugupta2001/trading-gateway/internal/orderbook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type bookRegistry map[string]*orderbook.Book

func (r bookRegistry) Book(instrument string) (*orderbook.Book, bool) {
	b, ok := r[instrument]
	return b, ok
}

type fakeSubmitter struct {
	mu      sync.Mutex
	orders  []*model.Order
	reached chan struct{}
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{reached: make(chan struct{}, 16)}
}

func (f *fakeSubmitter) Submit(order *model.Order) error {
	f.mu.Lock()
	f.orders = append(f.orders, order)
	f.mu.Unlock()
	f.reached <- struct{}{}
	return nil
}

func (f *fakeSubmitter) snapshot() []*model.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Order, len(f.orders))
	copy(out, f.orders)
	return out
}

func TestBuyLimitTriggersWhenPriceFalls(t *testing.T) {
	t.Parallel()
	book := orderbook.New()
	book.UpdateBid(29000, 1)
	book.UpdateAsk(29000, 1)
	books := bookRegistry{"BTC-PERPETUAL": book}
	sub := newFakeSubmitter()
	w := New(books, sub, testLogger())

	order := &model.Order{ClientOrderID: "c1", Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 1, Price: 30000, Type: model.Limit}
	w.Watch(order)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-sub.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger")
	}

	got := sub.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 submitted order, got %d", len(got))
	}
	if got[0].Price != 29000 {
		t.Errorf("submitted price = %v, want 29000 (triggered ask)", got[0].Price)
	}
	if w.Pending("c1") {
		t.Error("order should no longer be pending after trigger")
	}
}

func TestSellLimitDoesNotTriggerBelowTarget(t *testing.T) {
	t.Parallel()
	book := orderbook.New()
	book.UpdateBid(29000, 1)
	book.UpdateAsk(29000, 1)
	books := bookRegistry{"BTC-PERPETUAL": book}
	sub := newFakeSubmitter()
	w := New(books, sub, testLogger())

	order := &model.Order{ClientOrderID: "c2", Instrument: "BTC-PERPETUAL", Side: model.Sell, Amount: 1, Price: 30000, Type: model.Limit}
	w.Watch(order)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	time.Sleep(250 * time.Millisecond)
	w.Stop()

	if len(sub.snapshot()) != 0 {
		t.Error("sell limit above market should not have triggered")
	}
	if !w.Pending("c2") {
		t.Error("order should still be pending")
	}
}

func TestBuyLimitWatchesAskNotMid(t *testing.T) {
	t.Parallel()
	book := orderbook.New()
	book.UpdateBid(100, 1)
	book.UpdateAsk(2005, 1) // mid would be ~1052, well below target, but the ask governs
	books := bookRegistry{"ETH-PERPETUAL": book}
	sub := newFakeSubmitter()
	w := New(books, sub, testLogger())

	order := &model.Order{ClientOrderID: "c5", Instrument: "ETH-PERPETUAL", Side: model.Buy, Amount: 1, Price: 2000, Type: model.Limit}
	w.Watch(order)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	time.Sleep(250 * time.Millisecond)
	w.Stop()

	if len(sub.snapshot()) != 0 {
		t.Error("order should not have triggered: best ask 2005 is still above target 2000")
	}

	book.UpdateAsk(2005, 0)
	book.UpdateAsk(1999, 1)
	w.Watch(order)
	w.Start(context.Background())
	defer w.Stop()

	select {
	case <-sub.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger after ask crossed target")
	}
	got := sub.snapshot()
	if len(got) != 1 || got[0].Price != 1999 {
		t.Fatalf("expected one order priced at 1999, got %+v", got)
	}
}

func TestMarketOrderTriggersImmediately(t *testing.T) {
	t.Parallel()
	book := orderbook.New()
	book.UpdateBid(100, 1)
	book.UpdateAsk(101, 1)
	books := bookRegistry{"BTC-PERPETUAL": book}
	sub := newFakeSubmitter()
	w := New(books, sub, testLogger())

	order := &model.Order{ClientOrderID: "c6", Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 1, Type: model.Market}
	w.Watch(order)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-sub.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for market order to trigger")
	}
	got := sub.snapshot()
	if len(got) != 1 || got[0].Price != 101 {
		t.Fatalf("expected one order priced at best ask 101, got %+v", got)
	}
}

func TestUnwatchRemovesBeforeTrigger(t *testing.T) {
	t.Parallel()
	books := bookRegistry{}
	sub := newFakeSubmitter()
	w := New(books, sub, testLogger())

	order := &model.Order{ClientOrderID: "c3", Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 1, Price: 30000, Type: model.Limit}
	w.Watch(order)

	if !w.Unwatch("c3") {
		t.Fatal("expected Unwatch to report the order was pending")
	}
	if w.Unwatch("c3") {
		t.Error("second Unwatch should report false")
	}
}

func TestNoTriggerWithoutBookSnapshot(t *testing.T) {
	t.Parallel()
	books := bookRegistry{}
	sub := newFakeSubmitter()
	w := New(books, sub, testLogger())

	order := &model.Order{ClientOrderID: "c4", Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 1, Price: 30000, Type: model.Limit}
	w.Watch(order)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	time.Sleep(250 * time.Millisecond)
	w.Stop()

	if len(sub.snapshot()) != 0 {
		t.Error("should never trigger without a book snapshot")
	}
}
