// Package liquidation sweeps positions after every mark price update
// and force-closes the ones whose equity fell below maintenance
// margin. Closes go through the same fill path as trades, against a
// synthetic counterparty at the mark price.
package liquidation

import (
	"fmt"

	"PerpSim/internal/event"
	"PerpSim/internal/state"
)

// PositionCloser force-closes one position at the mark price, books
// realized PnL and the liquidation fee, and returns the event record.
// Implemented by the exchange core.
type PositionCloser interface {
	CloseForLiquidation(pos *state.Position, markPrice, equity, maintenanceMargin, timestamp int64) event.LiquidationEvent
}

// Engine decides WHICH positions to liquidate; the closer does the
// bookkeeping.
type Engine struct {
	positions *state.PositionManager
	margin    *state.MarginCalculator
	closer    PositionCloser
}

func NewEngine(positions *state.PositionManager, margin *state.MarginCalculator, closer PositionCloser) *Engine {
	return &Engine{
		positions: positions,
		margin:    margin,
		closer:    closer,
	}
}

// Sweep checks every open position against its maintenance margin at
// the given mark price, in ascending user-id order, and closes the
// failing ones in full. The snapshot is taken once: positions closed
// by this sweep are not re-checked, and a position at exactly the
// threshold survives.
func (e *Engine) Sweep(markPrice, timestamp int64) []event.LiquidationEvent {
	var events []event.LiquidationEvent

	for _, pos := range e.positions.OpenPositions() {
		liquidatable, equity, mm, err := e.margin.IsLiquidatable(pos)
		if err != nil {
			panic(fmt.Sprintf("FATAL: margin check failed during sweep: %v", err))
		}
		if !liquidatable {
			continue
		}

		events = append(events, e.closer.CloseForLiquidation(pos, markPrice, equity, mm, timestamp))
	}

	return events
}
