package state

import (
	"github.com/google/uuid"

	"PerpSim/internal/fixmath"
)

// CollateralSource is the slice of the balance tracker margin needs.
// An interface keeps state free of a direct ledger import.
type CollateralSource interface {
	CollateralOf(userID uuid.UUID) int64
}

// MarginCalculator computes margin metrics. Margin is virtual: initial
// and maintenance margin are derived from the position at the current
// mark price and never escrowed.
type MarginCalculator struct {
	positionMgr *PositionManager
	collateral  CollateralSource
	params      *RiskParams
}

func NewMarginCalculator(pm *PositionManager, cs CollateralSource, params *RiskParams) *MarginCalculator {
	return &MarginCalculator{
		positionMgr: pm,
		collateral:  cs,
		params:      params,
	}
}

// ComputeEquity returns collateral + unrealized PnL at the current
// mark price.
func (mc *MarginCalculator) ComputeEquity(userID uuid.UUID) (int64, error) {
	equity := mc.collateral.CollateralOf(userID)

	pos := mc.positionMgr.GetPosition(userID)
	if pos == nil || pos.IsFlat() {
		return equity, nil
	}

	upnl, err := mc.positionMgr.ComputeUnrealizedPnL(pos)
	if err != nil {
		return 0, err
	}
	return equity + upnl, nil
}

// ComputeMaintenanceMargin returns mm_fraction of the position
// notional at the current mark price.
func (mc *MarginCalculator) ComputeMaintenanceMargin(pos *Position) (int64, error) {
	if pos == nil || pos.IsFlat() {
		return 0, nil
	}

	notional, err := mc.positionMgr.ComputeNotional(pos)
	if err != nil {
		return 0, err
	}

	return notional * mc.params.MMFraction / 1_000_000, nil
}

// ComputeInitialMargin returns notional / leverage, rounded half-even.
func (mc *MarginCalculator) ComputeInitialMargin(pos *Position) (int64, error) {
	if pos == nil || pos.IsFlat() {
		return 0, nil
	}

	notional, err := mc.positionMgr.ComputeNotional(pos)
	if err != nil {
		return 0, err
	}
	if pos.Leverage <= 0 {
		return 0, nil
	}

	return fixmath.DivideRounded(notional, pos.Leverage), nil
}

// IsLiquidatable reports whether equity has fallen strictly below
// maintenance margin. A position at exactly the threshold survives.
func (mc *MarginCalculator) IsLiquidatable(pos *Position) (liquidatable bool, equity, maintenanceMargin int64, err error) {
	if pos == nil || pos.IsFlat() {
		return false, 0, 0, nil
	}

	equity, err = mc.ComputeEquity(pos.UserID)
	if err != nil {
		return false, 0, 0, err
	}

	maintenanceMargin, err = mc.ComputeMaintenanceMargin(pos)
	if err != nil {
		return false, 0, 0, err
	}

	return equity < maintenanceMargin, equity, maintenanceMargin, nil
}
