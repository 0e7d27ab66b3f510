package orderbook

import "testing"

// S4: apply bid(100,1), bid(101,2), ask(103,1), then bid(100,0).
// Expect best_bid=101, best_ask=103, mid=102, spread=2.
func TestS4BookUpdateSequence(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateBid(100, 1)
	b.UpdateBid(101, 2)
	b.UpdateAsk(103, 1)
	b.UpdateBid(100, 0)

	if got := b.BestBid(); got != 101 {
		t.Errorf("BestBid() = %v, want 101", got)
	}
	if got := b.BestAsk(); got != 103 {
		t.Errorf("BestAsk() = %v, want 103", got)
	}
	if got := b.Mid(); got != 102 {
		t.Errorf("Mid() = %v, want 102", got)
	}
	if got := b.Spread(); got != 2 {
		t.Errorf("Spread() = %v, want 2", got)
	}
}

// Invariant: re-updating an existing price overwrites the level in place
// rather than accumulating a duplicate entry.
func TestUpdateSamePriceOverwritesNotAccumulates(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateBid(100, 1)
	b.UpdateBid(100, 5)

	depth := b.Depth()
	if len(depth.Bids) != 1 {
		t.Fatalf("expected exactly 1 bid level, got %d: %+v", len(depth.Bids), depth.Bids)
	}
	if depth.Bids[0].Qty != 5 {
		t.Errorf("qty at 100 = %v, want 5 (overwritten)", depth.Bids[0].Qty)
	}
}

// Updating an existing price to qty<=0 must remove that exact level, not
// leave it in place because the binary search missed the match.
func TestUpdateZeroQtyRemovesExistingLevel(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateBid(101, 2)
	b.UpdateBid(100, 1)
	b.UpdateBid(100, 0)

	depth := b.Depth()
	if len(depth.Bids) != 1 || depth.Bids[0].Price != 101 {
		t.Fatalf("expected only the 101 level to remain, got %+v", depth.Bids)
	}
	if b.BestBid() != 101 {
		t.Errorf("BestBid() = %v, want 101", b.BestBid())
	}
}

// Same removal check on the ask side, where the comparison direction is
// reversed (ascending rather than descending).
func TestUpdateZeroQtyRemovesExistingAskLevel(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateAsk(100, 1)
	b.UpdateAsk(105, 2)
	b.UpdateAsk(100, 0)

	depth := b.Depth()
	if len(depth.Asks) != 1 || depth.Asks[0].Price != 105 {
		t.Fatalf("expected only the 105 level to remain, got %+v", depth.Asks)
	}
	if b.BestAsk() != 105 {
		t.Errorf("BestAsk() = %v, want 105", b.BestAsk())
	}
}

// Removing the single level on a side collapses that side to empty, and
// best/mid/spread fall back to their undefined-value behavior.
func TestRemovingOnlyLevelEmptiesSide(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateBid(100, 1)
	b.UpdateAsk(101, 1)
	b.UpdateBid(100, 0)

	if b.BestBid() != 0 {
		t.Errorf("BestBid() = %v, want 0 once the side is empty", b.BestBid())
	}
	if b.Mid() != 0 {
		t.Errorf("Mid() = %v, want 0 when one side is empty", b.Mid())
	}
	if b.Spread() != 0 {
		t.Errorf("Spread() = %v, want 0 when one side is empty", b.Spread())
	}
}

func TestDepthOrderingBestFirst(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateBid(99, 1)
	b.UpdateBid(101, 1)
	b.UpdateBid(100, 1)
	b.UpdateAsk(105, 1)
	b.UpdateAsk(103, 1)
	b.UpdateAsk(104, 1)

	depth := b.Depth()
	wantBids := []float64{101, 100, 99}
	for i, want := range wantBids {
		if depth.Bids[i].Price != want {
			t.Errorf("Bids[%d] = %v, want %v", i, depth.Bids[i].Price, want)
		}
	}
	wantAsks := []float64{103, 104, 105}
	for i, want := range wantAsks {
		if depth.Asks[i].Price != want {
			t.Errorf("Asks[%d] = %v, want %v", i, depth.Asks[i].Price, want)
		}
	}
}

func TestClearEmptiesBothSides(t *testing.T) {
	t.Parallel()
	b := New()
	b.UpdateBid(100, 1)
	b.UpdateAsk(101, 1)
	b.Clear()

	depth := b.Depth()
	if len(depth.Bids) != 0 || len(depth.Asks) != 0 {
		t.Fatalf("expected both sides empty after Clear, got %+v", depth)
	}
	if _, _, ok := b.BestBidAsk(); ok {
		t.Error("BestBidAsk should report not-ok after Clear")
	}
}
