// Package book implements a single-instrument limit order book with
// price-time priority. Each side keeps a heap of price levels (max-heap
// bids, min-heap asks) with lazy removal of emptied levels, a map from
// price to level, and a global map from order id to order.
package book

import (
	"container/heap"

	"github.com/google/uuid"

	"PerpSim/internal/event"
)

// Order is a resting or incoming limit order. Remaining is mutated only
// through Reduce so level totals stay consistent.
type Order struct {
	ID        int64
	UserID    uuid.UUID
	Side      event.Side // SideLong = buy, SideShort = sell
	Price     int64      // Fixed-point: price scale
	Quantity  int64      // Fixed-point: quantity scale, original
	Remaining int64      // Fixed-point: quantity scale
	Leverage  int64
	CreatedAt int64 // Core-assigned insertion sequence, FIFO tie-break
}

type priceLevel struct {
	price    int64
	orders   []*Order // FIFO by CreatedAt
	totalQty int64
}

func (l *priceLevel) empty() bool {
	return len(l.orders) == 0
}

// priceHeap orders prices best-first: descending for bids, ascending
// for asks. Stale entries for emptied levels are popped lazily.
type priceHeap struct {
	prices []int64
	desc   bool
}

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	if h.desc {
		return h.prices[i] > h.prices[j]
	}
	return h.prices[i] < h.prices[j]
}

func (h *priceHeap) Swap(i, j int) {
	h.prices[i], h.prices[j] = h.prices[j], h.prices[i]
}

func (h *priceHeap) Push(x interface{}) {
	h.prices = append(h.prices, x.(int64))
}

func (h *priceHeap) Pop() interface{} {
	n := len(h.prices)
	v := h.prices[n-1]
	h.prices = h.prices[:n-1]
	return v
}

type sideBook struct {
	heap   *priceHeap
	levels map[int64]*priceLevel
}

func newSideBook(desc bool) *sideBook {
	return &sideBook{
		heap:   &priceHeap{desc: desc},
		levels: make(map[int64]*priceLevel),
	}
}

func (s *sideBook) insert(o *Order) {
	level, ok := s.levels[o.Price]
	if !ok {
		level = &priceLevel{price: o.Price}
		s.levels[o.Price] = level
		heap.Push(s.heap, o.Price)
	}
	level.orders = append(level.orders, o)
	level.totalQty += o.Remaining
}

// best returns the front order of the best non-empty level, popping
// stale heap entries on the way. Returns nil for an empty side.
func (s *sideBook) best() *Order {
	for s.heap.Len() > 0 {
		price := s.heap.prices[0]
		level, ok := s.levels[price]
		if !ok || level.empty() {
			heap.Pop(s.heap)
			delete(s.levels, price)
			continue
		}
		return level.orders[0]
	}
	return nil
}

func (s *sideBook) remove(o *Order) {
	level, ok := s.levels[o.Price]
	if !ok {
		return
	}
	for i, resting := range level.orders {
		if resting.ID == o.ID {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			level.totalQty -= resting.Remaining
			break
		}
	}
	if level.empty() {
		delete(s.levels, o.Price)
	}
}

// DepthLevel is one aggregated price level in a depth snapshot.
type DepthLevel struct {
	Price    int64
	Quantity int64
	Orders   int
}

func (s *sideBook) depth(n int) []DepthLevel {
	prices := make([]int64, 0, len(s.levels))
	for price, level := range s.levels {
		if !level.empty() {
			prices = append(prices, price)
		}
	}
	// Best-first.
	for i := 1; i < len(prices); i++ {
		for j := i; j > 0; j-- {
			better := prices[j] < prices[j-1]
			if s.heap.desc {
				better = prices[j] > prices[j-1]
			}
			if !better {
				break
			}
			prices[j], prices[j-1] = prices[j-1], prices[j]
		}
	}
	if n > 0 && len(prices) > n {
		prices = prices[:n]
	}
	out := make([]DepthLevel, 0, len(prices))
	for _, price := range prices {
		level := s.levels[price]
		out = append(out, DepthLevel{
			Price:    price,
			Quantity: level.totalQty,
			Orders:   len(level.orders),
		})
	}
	return out
}

// OrderBook is the two-sided book. Not safe for concurrent use; the
// core is single-threaded.
type OrderBook struct {
	bids   *sideBook
	asks   *sideBook
	orders map[int64]*Order
}

func New() *OrderBook {
	return &OrderBook{
		bids:   newSideBook(true),
		asks:   newSideBook(false),
		orders: make(map[int64]*Order),
	}
}

func (b *OrderBook) side(s event.Side) *sideBook {
	if s == event.SideLong {
		return b.bids
	}
	return b.asks
}

// Insert rests an order on its side of the book.
func (b *OrderBook) Insert(o *Order) {
	b.orders[o.ID] = o
	b.side(o.Side).insert(o)
}

// Best returns the top-priority resting order on the given side, or
// nil if that side is empty.
func (b *OrderBook) Best(s event.Side) *Order {
	return b.side(s).best()
}

// BestPrice returns the best price on the given side.
func (b *OrderBook) BestPrice(s event.Side) (int64, bool) {
	o := b.Best(s)
	if o == nil {
		return 0, false
	}
	return o.Price, true
}

// Get returns a resting order by id, or nil.
func (b *OrderBook) Get(id int64) *Order {
	return b.orders[id]
}

// Remove cancels a resting order. Unknown ids are a silent no-op, so
// cancellation is idempotent.
func (b *OrderBook) Remove(id int64) {
	o, ok := b.orders[id]
	if !ok {
		return
	}
	b.side(o.Side).remove(o)
	delete(b.orders, id)
}

// Reduce consumes quantity from a resting order after a fill and drops
// the order once fully filled. Panics if qty exceeds the remainder:
// the matching engine already bounded it.
func (b *OrderBook) Reduce(id int64, qty int64) {
	o, ok := b.orders[id]
	if !ok {
		panic("FATAL: reduce of unknown order")
	}
	if qty <= 0 || qty > o.Remaining {
		panic("FATAL: reduce quantity out of range")
	}
	o.Remaining -= qty
	level := b.side(o.Side).levels[o.Price]
	level.totalQty -= qty
	if o.Remaining == 0 {
		b.side(o.Side).remove(o)
		delete(b.orders, id)
	}
}

// Depth returns up to n aggregated levels per side, best-first.
func (b *OrderBook) Depth(n int) (bids, asks []DepthLevel) {
	return b.bids.depth(n), b.asks.depth(n)
}

// Len returns the number of resting orders.
func (b *OrderBook) Len() int {
	return len(b.orders)
}

// Crossed reports whether best bid >= best ask. After matching
// completes this must be false whenever both sides are non-empty.
func (b *OrderBook) Crossed() bool {
	bid, okBid := b.BestPrice(event.SideLong)
	ask, okAsk := b.BestPrice(event.SideShort)
	return okBid && okAsk && bid >= ask
}
