package event

import "github.com/google/uuid"

// Fill is one matched execution between a taker and a resting maker
// order. Liquidation closes reuse the same record with a synthetic
// counterparty: MakerOrderID 0 and a nil MakerUserID.
type Fill struct {
	FillID       uuid.UUID `json:"fill_id"`
	Market       string    `json:"market"`
	MakerOrderID int64     `json:"maker_order_id"`
	TakerOrderID int64     `json:"taker_order_id"`
	MakerUserID  uuid.UUID `json:"maker_user_id"`
	TakerUserID  uuid.UUID `json:"taker_user_id"`
	TakerSide    Side      `json:"taker_side"`
	Price        int64     `json:"price"`    // Fixed-point: price scale. Always the resting order's price.
	Quantity     int64     `json:"quantity"` // Fixed-point: quantity scale
	Sequence     int64     `json:"sequence"` // Core-assigned, monotonic
	Timestamp    int64     `json:"timestamp_us"` // Versioned input timestamp, epoch micros (NOT wall-clock)
	Liquidation  bool      `json:"liquidation,omitempty"`
}
