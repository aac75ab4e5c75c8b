// Package funding applies periodic funding transfers between longs and
// shorts. Each application is atomic: one settlement batch through the
// funding pool, one immutable FundingEvent.
package funding

import (
	"fmt"

	"github.com/google/uuid"

	"PerpSim/internal/event"
	"PerpSim/internal/fixmath"
	"PerpSim/internal/ledger"
	"PerpSim/internal/state"
)

// ErrDuplicateApplication guards against applying funding twice for
// the same timestamp. The second call mutates nothing.
type ErrDuplicateApplication struct {
	Timestamp int64
}

func (e *ErrDuplicateApplication) Error() string {
	return fmt.Sprintf("funding already applied at timestamp %d", e.Timestamp)
}

// Engine computes and settles funding. It owns the last-applied
// timestamp; all other state lives in the position manager and ledger.
type Engine struct {
	market      string
	positions   *state.PositionManager
	journals    *ledger.JournalGenerator
	balances    *ledger.BalanceTracker
	validator   *ledger.InvariantValidator
	params      *state.RiskParams
	lastApplied int64 // epoch micros, 0 = never
}

func NewEngine(
	market string,
	positions *state.PositionManager,
	journals *ledger.JournalGenerator,
	balances *ledger.BalanceTracker,
	validator *ledger.InvariantValidator,
	params *state.RiskParams,
) *Engine {
	return &Engine{
		market:    market,
		positions: positions,
		journals:  journals,
		balances:  balances,
		validator: validator,
		params:    params,
	}
}

// Apply computes the funding rate from mark and index, settles
// payments across all open positions, and returns the event plus the
// settlement batch. Longs pay when mark > index; shorts receive.
func (e *Engine) Apply(markPrice, indexPrice, timestamp int64) (*event.FundingEvent, *ledger.Batch, error) {
	if indexPrice <= 0 {
		return nil, nil, fmt.Errorf("index price must be positive, got %d", indexPrice)
	}
	if markPrice <= 0 {
		return nil, nil, fmt.Errorf("mark price must be positive, got %d", markPrice)
	}
	if e.lastApplied != 0 && timestamp == e.lastApplied {
		return nil, nil, &ErrDuplicateApplication{Timestamp: timestamp}
	}
	if e.lastApplied != 0 && timestamp < e.lastApplied {
		return nil, nil, fmt.Errorf("funding timestamp %d precedes last applied %d", timestamp, e.lastApplied)
	}

	rate := fixmath.ComputeFundingRate(markPrice, indexPrice, e.params.FundingRateCap)

	settlement := fixmath.ComputeFundingSettlement(
		e.market,
		rate,
		markPrice,
		indexPrice,
		e.positions.PositionsForFunding(),
	)

	evt := &event.FundingEvent{
		EventID:    uuid.New(),
		Market:     e.market,
		Rate:       rate,
		MarkPrice:  markPrice,
		IndexPrice: indexPrice,
		Residual:   settlement.RoundingFee,
		Timestamp:  timestamp,
	}
	for _, p := range settlement.Payments {
		evt.Payments = append(evt.Payments, event.FundingPayment{
			UserID: uuid.UUID(p.UserID),
			Amount: p.Payment,
		})
	}

	// No open positions (or zero rate): record the event, move nothing.
	if len(settlement.Payments) == 0 && settlement.RoundingFee == 0 {
		e.lastApplied = timestamp
		return evt, nil, nil
	}

	batch := e.journals.GenerateFundingSettlement(settlement, timestamp)
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: funding settlement batch invalid: %v", err))
	}
	if err := e.balances.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: funding settlement apply failed: %v", err))
	}
	if err := e.validator.ValidateFundingPoolZero(e.market); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}

	e.lastApplied = timestamp
	return evt, batch, nil
}

// LastApplied returns the timestamp of the last funding application,
// or 0 if funding has never run.
func (e *Engine) LastApplied() int64 {
	return e.lastApplied
}
