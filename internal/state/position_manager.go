package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"PerpSim/internal/event"
	"PerpSim/internal/fixmath"
)

// FillAction classifies what a fill did to the position.
type FillAction int32

const (
	FillActionOpen FillAction = iota
	FillActionIncrease
	FillActionReduce
	FillActionClose
	FillActionFlip
)

func (a FillAction) String() string {
	switch a {
	case FillActionOpen:
		return "open"
	case FillActionIncrease:
		return "increase"
	case FillActionReduce:
		return "reduce"
	case FillActionClose:
		return "close"
	case FillActionFlip:
		return "flip"
	default:
		return "unknown"
	}
}

// MarkPriceState tracks the latest mark price for the instrument
type MarkPriceState struct {
	Price         int64
	PriceSequence int64
	Timestamp     int64
}

// PositionManager manages position state and PnL calculations for the
// single instrument. Positions are removed when they reach zero size.
type PositionManager struct {
	market    string
	positions map[uuid.UUID]*Position
	markPrice *MarkPriceState
}

func NewPositionManager(market string) *PositionManager {
	return &PositionManager{
		market:    market,
		positions: make(map[uuid.UUID]*Position),
	}
}

// GetPosition returns existing position or nil
func (pm *PositionManager) GetPosition(userID uuid.UUID) *Position {
	return pm.positions[userID]
}

// UpdateMarkPrice stores a new mark price. Stale sequences are ignored
// so reapplication is idempotent.
func (pm *PositionManager) UpdateMarkPrice(price int64, sequence int64, timestamp int64) {
	if pm.markPrice != nil && sequence <= pm.markPrice.PriceSequence {
		return
	}
	pm.markPrice = &MarkPriceState{
		Price:         price,
		PriceSequence: sequence,
		Timestamp:     timestamp,
	}
}

// MarkPrice returns the current mark price, if one has been set
func (pm *PositionManager) MarkPrice() (int64, bool) {
	if pm.markPrice == nil {
		return 0, false
	}
	return pm.markPrice.Price, true
}

// ComputeUnrealizedPnL calculates unrealized PnL for a position at the
// current mark price (derived value, never stored)
func (pm *PositionManager) ComputeUnrealizedPnL(pos *Position) (int64, error) {
	if pos.IsFlat() {
		return 0, nil
	}

	markPrice, ok := pm.MarkPrice()
	if !ok {
		return 0, fmt.Errorf("no mark price for market %s", pm.market)
	}

	return fixmath.ComputeUnrealizedPnL(
		pos.SideSign(),
		markPrice,
		pos.AvgEntryPrice,
		pos.Size,
		fixmath.PriceConfig.Scale,
		fixmath.QuantityConfig.Scale,
		fixmath.QuoteConfig.Scale,
	), nil
}

// ComputeNotional calculates position notional at the current mark price
func (pm *PositionManager) ComputeNotional(pos *Position) (int64, error) {
	if pos.IsFlat() {
		return 0, nil
	}

	markPrice, ok := pm.MarkPrice()
	if !ok {
		return 0, fmt.Errorf("no mark price for market %s", pm.market)
	}

	return fixmath.ComputeNotional(
		pos.Size,
		markPrice,
		fixmath.PriceConfig.Scale,
		fixmath.QuantityConfig.Scale,
		fixmath.QuoteConfig.Scale,
	), nil
}

// ApplyTradeFill updates position state from one fill.
// Opening or increasing fills overwrite the position leverage with the
// order's; reducing fills leave entry price and leverage untouched.
func (pm *PositionManager) ApplyTradeFill(
	userID uuid.UUID,
	side event.Side,
	quantity int64,
	price int64,
	leverage int64,
) (realizedPnL int64, action FillAction) {
	if quantity <= 0 {
		panic("FATAL: fill with non-positive quantity reached position manager")
	}

	pos := pm.positions[userID]

	// Case 1: No position -> open new
	if pos == nil || pos.IsFlat() {
		pm.positions[userID] = &Position{
			UserID:        userID,
			Market:        pm.market,
			Side:          side,
			Size:          quantity,
			AvgEntryPrice: price,
			Leverage:      leverage,
			Version:       1,
		}
		return 0, FillActionOpen
	}

	// Case 2: Same side -> increase, entry re-averaged, leverage overwritten
	if pos.Side == side {
		pos.AvgEntryPrice = fixmath.ComputeAvgEntryPrice(
			pos.Size,
			pos.AvgEntryPrice,
			quantity,
			price,
		)
		pos.Size += quantity
		pos.Leverage = leverage
		pos.Version++
		return 0, FillActionIncrease
	}

	// Case 3: Opposite side -> reduce, close, or flip
	switch {
	case quantity < pos.Size:
		realizedPnL = pm.computeRealizedPnLForClose(pos, quantity, price)
		pos.Size -= quantity
		pos.RealizedPnL += realizedPnL
		pos.Version++
		return realizedPnL, FillActionReduce

	case quantity == pos.Size:
		realizedPnL = pm.computeRealizedPnLForClose(pos, quantity, price)
		delete(pm.positions, userID)
		return realizedPnL, FillActionClose

	default:
		// Close all, open remainder on the opposite side at fill price
		closePnL := pm.computeRealizedPnLForClose(pos, pos.Size, price)
		remaining := quantity - pos.Size

		pos.Side = side
		pos.Size = remaining
		pos.AvgEntryPrice = price
		pos.Leverage = leverage
		pos.RealizedPnL += closePnL
		pos.Version++
		return closePnL, FillActionFlip
	}
}

func (pm *PositionManager) computeRealizedPnLForClose(pos *Position, closedQty int64, exitPrice int64) int64 {
	return fixmath.ComputeRealizedPnL(
		pos.SideSign(),
		exitPrice,
		pos.AvgEntryPrice,
		closedQty,
		fixmath.PriceConfig.Scale,
		fixmath.QuantityConfig.Scale,
		fixmath.QuoteConfig.Scale,
	)
}

// OpenPositions returns all open positions sorted ascending by user id
// bytes, the canonical iteration order for sweeps and settlements.
func (pm *PositionManager) OpenPositions() []*Position {
	result := make([]*Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		if !pos.IsFlat() {
			result = append(result, pos)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].UserID[:], result[j].UserID[:]) < 0
	})
	return result
}

// PositionsForFunding converts open positions into the funding
// computation view.
func (pm *PositionManager) PositionsForFunding() []fixmath.PositionForFunding {
	open := pm.OpenPositions()
	out := make([]fixmath.PositionForFunding, 0, len(open))
	for _, pos := range open {
		out = append(out, fixmath.PositionForFunding{
			UserID:   pos.UserID,
			Size:     pos.Size,
			SideSign: pos.SideSign(),
		})
	}
	return out
}
