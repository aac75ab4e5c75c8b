package event

import "github.com/google/uuid"

// LiquidationEvent records a forced full close of an undermargined
// position at the mark price. CollateralAfter may be negative; the
// ledger reports it as-is.
type LiquidationEvent struct {
	EventID           uuid.UUID `json:"event_id"`
	Market            string    `json:"market"`
	UserID            uuid.UUID `json:"user_id"`
	Side              Side      `json:"side"`        // Side of the closed position
	Quantity          int64     `json:"quantity"`    // Fixed-point: quantity scale
	EntryPrice        int64     `json:"entry_price"` // Fixed-point: price scale
	MarkPrice         int64     `json:"mark_price"`  // Fixed-point: price scale
	Notional          int64     `json:"notional"`    // Fixed-point: quote scale, at mark
	RealizedPnL       int64     `json:"realized_pnl"`
	Fee               int64     `json:"fee"`
	EquityBefore      int64     `json:"equity_before"`
	MaintenanceMargin int64     `json:"maintenance_margin"`
	CollateralAfter   int64     `json:"collateral_after"` // May be negative
	Sequence          int64     `json:"sequence"`
	Timestamp         int64     `json:"timestamp_us"` // Epoch micros
}
