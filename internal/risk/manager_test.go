package risk

import (
	"log/slog"
	"os"
	"testing"

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

func defaultLimits() Limits {
	return Limits{
		MaxOrderSize:       1.0,
		MaxPositionSize:    5.0,
		MaxLeverage:        10.0,
		MinMargin:          0.1,
		MaxDailyLoss:       1000.0,
		MaxOrdersPerSecond: 5,
	}
}

// S2: risk reject by size.
func TestValidateRejectsOversizedOrder(t *testing.T) {
	t.Parallel()
	m := NewManager(defaultLimits(), nil, testLogger())

	order := &model.Order{Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 1.5, Price: 30000, Type: model.Limit}
	err := m.Validate(order)
	if err == nil {
		t.Fatal("expected rejection for oversized order")
	}
	merr := err.(*model.Error)
	if merr.Kind != model.KindRiskRejected {
		t.Errorf("kind = %v, want RiskRejected", merr.Kind)
	}
}

// S3: risk reject by position.
func TestValidateRejectsPositionOverLimit(t *testing.T) {
	t.Parallel()
	limits := defaultLimits()
	limits.MaxPositionSize = 5.0
	m := NewManager(limits, nil, testLogger())
	m.UpdatePosition("BTC-PERPETUAL", 4.5, 30000)

	order := &model.Order{Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 1.0, Price: 30000, Type: model.Limit}
	if err := m.Validate(order); err == nil {
		t.Fatal("expected rejection for position over limit")
	}
}

func TestValidateAcceptsWithinLimits(t *testing.T) {
	t.Parallel()
	m := NewManager(defaultLimits(), nil, testLogger())

	order := &model.Order{Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 0.5, Price: 30000, Type: model.Limit}
	if err := m.Validate(order); err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
}

func TestValidateLeverageRejectsBelowMinMargin(t *testing.T) {
	t.Parallel()
	limits := defaultLimits()
	limits.MaxLeverage = 100000
	limits.MinMargin = 1.0
	m := NewManager(limits, nil, testLogger())

	order := &model.Order{Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 0.001, Price: 1, Type: model.Limit}
	if err := m.Validate(order); err == nil {
		t.Fatal("expected rejection for margin below minimum")
	}
}

func TestValidateMarketOrderUsesBookPrice(t *testing.T) {
	t.Parallel()
	book := orderbook.New()
	book.UpdateAsk(30000, 10)
	m := NewManager(defaultLimits(), bookRegistry{"BTC-PERPETUAL": book}, testLogger())

	order := &model.Order{Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 0.5, Type: model.Market}
	if err := m.Validate(order); err != nil {
		t.Fatalf("expected accept using book price, got %v", err)
	}
}

func TestValidateMarketOrderWithoutBookIsPriceUnknown(t *testing.T) {
	t.Parallel()
	m := NewManager(defaultLimits(), bookRegistry{}, testLogger())

	order := &model.Order{Instrument: "BTC-PERPETUAL", Side: model.Buy, Amount: 0.5, Type: model.Market}
	err := m.Validate(order)
	if err == nil {
		t.Fatal("expected PriceUnknown")
	}
	if err.(*model.Error).Kind != model.KindPriceUnknown {
		t.Errorf("kind = %v, want PriceUnknown", err.(*model.Error).Kind)
	}
}

// Invariant 2: position after N fills equals the signed sum; average price
// is volume-weighted when signs agree.
func TestUpdatePositionVolumeWeightedAverage(t *testing.T) {
	t.Parallel()
	m := NewManager(defaultLimits(), nil, testLogger())

	m.UpdatePosition("ETH-PERPETUAL", 1.0, 2000)
	m.UpdatePosition("ETH-PERPETUAL", 1.0, 2200)

	positions := m.Positions()
	if len(positions) != 1 {
		t.Fatalf("expected 1 tracked position, got %d", len(positions))
	}
	pos := positions[0]
	if pos.Size != 2.0 {
		t.Errorf("size = %v, want 2.0", pos.Size)
	}
	if pos.AveragePrice != 2100 {
		t.Errorf("average price = %v, want 2100", pos.AveragePrice)
	}
}

func TestUpdatePositionSignFlipResetsAverage(t *testing.T) {
	t.Parallel()
	m := NewManager(defaultLimits(), nil, testLogger())

	m.UpdatePosition("ETH-PERPETUAL", 2.0, 2000)
	m.UpdatePosition("ETH-PERPETUAL", -3.0, 1900)

	positions := m.Positions()
	pos := positions[0]
	if pos.Size != -1.0 {
		t.Errorf("size = %v, want -1.0", pos.Size)
	}
	if pos.AveragePrice != 1900 {
		t.Errorf("average price on sign flip = %v, want 1900", pos.AveragePrice)
	}
}

func TestUpdatePositionCollapseToFlatResetsAverage(t *testing.T) {
	t.Parallel()
	m := NewManager(defaultLimits(), nil, testLogger())

	m.UpdatePosition("ETH-PERPETUAL", 1.0, 2000)
	m.UpdatePosition("ETH-PERPETUAL", -1.0, 2500)

	positions := m.Positions()
	pos := positions[0]
	if pos.Size != 0 {
		t.Errorf("size = %v, want 0", pos.Size)
	}
	if pos.AveragePrice != 0 {
		t.Errorf("average price when flat = %v, want 0", pos.AveragePrice)
	}
}

func TestCheckMarginAndInstrumentRateHooksAreWired(t *testing.T) {
	t.Parallel()
	m := NewManager(defaultLimits(), nil, testLogger())
	order := &model.Order{Instrument: "BTC-PERPETUAL", Amount: 0.1, Price: 100}
	if err := m.checkMargin(order); err != nil {
		t.Errorf("checkMargin stub should accept, got %v", err)
	}
	if err := m.checkInstrumentRate(order); err != nil {
		t.Errorf("checkInstrumentRate stub should accept, got %v", err)
	}
}
