package event

import "github.com/google/uuid"

// FundingPayment is one user's leg of a funding application.
// Positive Amount means the user paid, negative means received.
type FundingPayment struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"` // Fixed-point: quote scale
}

// FundingEvent records one funding application across all open
// positions. Payments are ordered ascending by user id bytes.
type FundingEvent struct {
	EventID    uuid.UUID        `json:"event_id"`
	Market     string           `json:"market"`
	Rate       int64            `json:"rate"`        // Fixed-point: rate scale
	MarkPrice  int64            `json:"mark_price"`  // Fixed-point: price scale
	IndexPrice int64            `json:"index_price"` // Fixed-point: price scale
	Payments   []FundingPayment `json:"payments"`
	Residual   int64            `json:"residual"` // Rounding residual posted to fees, quote scale
	Sequence   int64            `json:"sequence"`
	Timestamp  int64            `json:"timestamp_us"` // Epoch micros
}
