package book

import (
	"testing"

	"github.com/google/uuid"

	"PerpSim/internal/event"
)

func newOrder(id int64, side event.Side, price, qty int64, createdAt int64) *Order {
	return &Order{
		ID:        id,
		UserID:    uuid.New(),
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		Leverage:  1,
		CreatedAt: createdAt,
	}
}

func TestBestPricePriority(t *testing.T) {
	b := New()

	b.Insert(newOrder(1, event.SideLong, 5_990_000, 1_000_000, 1))
	b.Insert(newOrder(2, event.SideLong, 6_000_000, 1_000_000, 2))
	b.Insert(newOrder(3, event.SideShort, 6_020_000, 1_000_000, 3))
	b.Insert(newOrder(4, event.SideShort, 6_010_000, 1_000_000, 4))

	if best := b.Best(event.SideLong); best == nil || best.Price != 6_000_000 {
		t.Errorf("best bid = %v, want price %d", best, 6_000_000)
	}
	if best := b.Best(event.SideShort); best == nil || best.Price != 6_010_000 {
		t.Errorf("best ask = %v, want price %d", best, 6_010_000)
	}
	if b.Crossed() {
		t.Error("book reports crossed with bid 60000 < ask 60100")
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New()

	first := newOrder(1, event.SideLong, 6_000_000, 1_000_000, 1)
	second := newOrder(2, event.SideLong, 6_000_000, 2_000_000, 2)
	b.Insert(first)
	b.Insert(second)

	if best := b.Best(event.SideLong); best.ID != 1 {
		t.Errorf("best order id = %d, want 1 (first in at level)", best.ID)
	}

	b.Reduce(1, 1_000_000)

	if best := b.Best(event.SideLong); best.ID != 2 {
		t.Errorf("after filling first, best order id = %d, want 2", best.ID)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := New()
	b.Insert(newOrder(1, event.SideShort, 6_000_000, 1_000_000, 1))

	b.Remove(1)
	if b.Len() != 0 {
		t.Fatalf("len = %d, want 0", b.Len())
	}

	// Second remove and unknown id: silent no-ops.
	b.Remove(1)
	b.Remove(42)

	if best := b.Best(event.SideShort); best != nil {
		t.Errorf("best after remove = %v, want nil", best)
	}
}

func TestLevelReusedAfterEmptying(t *testing.T) {
	b := New()

	b.Insert(newOrder(1, event.SideLong, 6_000_000, 1_000_000, 1))
	b.Remove(1)

	// Same price again after the level emptied: the stale heap entry
	// must not confuse Best.
	b.Insert(newOrder(2, event.SideLong, 6_000_000, 2_000_000, 2))

	best := b.Best(event.SideLong)
	if best == nil || best.ID != 2 {
		t.Fatalf("best = %v, want order 2", best)
	}
	if best.Remaining != 2_000_000 {
		t.Errorf("remaining = %d, want %d", best.Remaining, 2_000_000)
	}
}

func TestDepthAggregation(t *testing.T) {
	b := New()

	b.Insert(newOrder(1, event.SideLong, 6_000_000, 1_000_000, 1))
	b.Insert(newOrder(2, event.SideLong, 6_000_000, 2_000_000, 2))
	b.Insert(newOrder(3, event.SideLong, 5_990_000, 1_000_000, 3))
	b.Insert(newOrder(4, event.SideShort, 6_010_000, 500_000, 4))

	bids, asks := b.Depth(5)

	if len(bids) != 2 {
		t.Fatalf("bid levels = %d, want 2", len(bids))
	}
	if bids[0].Price != 6_000_000 || bids[0].Quantity != 3_000_000 || bids[0].Orders != 2 {
		t.Errorf("top bid level = %+v", bids[0])
	}
	if bids[1].Price != 5_990_000 {
		t.Errorf("second bid level price = %d, want %d", bids[1].Price, 5_990_000)
	}
	if len(asks) != 1 || asks[0].Quantity != 500_000 {
		t.Errorf("asks = %+v", asks)
	}

	bids, _ = b.Depth(1)
	if len(bids) != 1 {
		t.Errorf("truncated bid levels = %d, want 1", len(bids))
	}
}

func TestReduceOutOfRangePanics(t *testing.T) {
	b := New()
	b.Insert(newOrder(1, event.SideLong, 6_000_000, 1_000_000, 1))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on over-reduce")
		}
	}()
	b.Reduce(1, 2_000_000)
}
