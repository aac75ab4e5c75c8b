// Package match implements price-time priority matching over the order
// book. Fills always execute at the RESTING order's price; validation
// failures reject the order before any state mutates.
package match

import (
	"fmt"

	"github.com/google/uuid"

	"PerpSim/internal/book"
	"PerpSim/internal/event"
	"PerpSim/internal/state"
)

// InvalidOrderError rejects an order pre-mutation. The run continues;
// nothing about the book or ledger changed.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order: %s", e.Reason)
}

// FillSink receives both legs of every fill, maker first. The sink
// applies position and ledger effects; it must not fail, bookkeeping
// errors inside it are invariant violations.
type FillSink interface {
	ApplyFill(ref string, userID uuid.UUID, side event.Side, quantity, price, leverage, timestamp int64)
}

// Engine matches incoming orders against the book and forwards fills
// to the sink.
type Engine struct {
	market      string
	book        *book.OrderBook
	params      *state.RiskParams
	sink        FillSink
	nextOrderID int64
	nextFillSeq int64
}

func NewEngine(market string, b *book.OrderBook, params *state.RiskParams, sink FillSink) *Engine {
	return &Engine{
		market:      market,
		book:        b,
		params:      params,
		sink:        sink,
		nextOrderID: 1,
		nextFillSeq: 1,
	}
}

func (e *Engine) validate(side event.Side, quantity, price, leverage int64) error {
	if side != event.SideLong && side != event.SideShort {
		return &InvalidOrderError{Reason: "side must be buy or sell"}
	}
	if quantity <= 0 {
		return &InvalidOrderError{Reason: fmt.Sprintf("quantity must be positive, got %d", quantity)}
	}
	if price <= 0 {
		return &InvalidOrderError{Reason: fmt.Sprintf("price must be positive, got %d", price)}
	}
	if leverage < 1 || leverage > e.params.MaxLeverage {
		return &InvalidOrderError{Reason: fmt.Sprintf("leverage must be in [1, %d], got %d", e.params.MaxLeverage, leverage)}
	}
	if price%e.params.TickSize != 0 {
		return &InvalidOrderError{Reason: fmt.Sprintf("price %d not aligned to tick size %d", price, e.params.TickSize)}
	}
	if quantity%e.params.LotSize != 0 {
		return &InvalidOrderError{Reason: fmt.Sprintf("quantity %d not aligned to lot size %d", quantity, e.params.LotSize)}
	}
	return nil
}

func crosses(takerSide event.Side, takerPrice, restingPrice int64) bool {
	if takerSide == event.SideLong {
		return restingPrice <= takerPrice
	}
	return restingPrice >= takerPrice
}

// PlaceOrder validates, matches, and rests any remainder. Returns the
// order (resting or fully filled) and the fills it produced, in
// execution order. On validation failure nothing mutates.
func (e *Engine) PlaceOrder(
	userID uuid.UUID,
	side event.Side,
	quantity, price, leverage, timestamp int64,
) (*book.Order, []event.Fill, error) {
	if err := e.validate(side, quantity, price, leverage); err != nil {
		return nil, nil, err
	}

	taker := &book.Order{
		ID:        e.nextOrderID,
		UserID:    userID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		Leverage:  leverage,
		CreatedAt: e.nextOrderID,
	}
	e.nextOrderID++

	var fills []event.Fill

	for taker.Remaining > 0 {
		resting := e.book.Best(side.Opposite())
		if resting == nil || !crosses(side, price, resting.Price) {
			break
		}

		qty := taker.Remaining
		if resting.Remaining < qty {
			qty = resting.Remaining
		}

		fill := event.Fill{
			FillID:       uuid.New(),
			Market:       e.market,
			MakerOrderID: resting.ID,
			TakerOrderID: taker.ID,
			MakerUserID:  resting.UserID,
			TakerUserID:  userID,
			TakerSide:    side,
			Price:        resting.Price,
			Quantity:     qty,
			Sequence:     e.nextFillSeq,
			Timestamp:    timestamp,
		}
		e.nextFillSeq++

		ref := fill.FillID.String()

		// Maker first, then taker: the maker's position reflects the
		// resting order's side and leverage.
		e.sink.ApplyFill(ref, resting.UserID, resting.Side, qty, resting.Price, resting.Leverage, timestamp)
		e.sink.ApplyFill(ref, userID, side, qty, resting.Price, leverage, timestamp)

		e.book.Reduce(resting.ID, qty)
		taker.Remaining -= qty
		fills = append(fills, fill)
	}

	if taker.Remaining > 0 {
		e.book.Insert(taker)
	}

	if e.book.Crossed() {
		panic("FATAL: book crossed after matching")
	}

	return taker, fills, nil
}

// CancelOrder removes a resting order. Unknown ids are a no-op.
func (e *Engine) CancelOrder(orderID int64) {
	e.book.Remove(orderID)
}

// NextFillSequence returns the sequence the next fill will get.
func (e *Engine) NextFillSequence() int64 {
	return e.nextFillSeq
}

// AllocateFillSequence hands out the next fill sequence number. The
// liquidation path uses it so forced closes share the trade fill
// ordering.
func (e *Engine) AllocateFillSequence() int64 {
	s := e.nextFillSeq
	e.nextFillSeq++
	return s
}
