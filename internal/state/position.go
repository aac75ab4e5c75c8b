package state

import (
	"github.com/google/uuid"

	"PerpSim/internal/event"
)

// Position represents a user's position in the instrument. Leverage is
// a bookkeeping input for initial margin only; it is overwritten by
// every fill that opens or increases the position.
type Position struct {
	UserID        uuid.UUID
	Market        string
	Side          event.Side
	Size          int64 // Fixed-point: quantity scale
	AvgEntryPrice int64 // Fixed-point: price scale
	Leverage      int64
	RealizedPnL   int64 // Fixed-point: quote scale (cumulative)
	Version       int64
}

// IsFlat returns true if position has no exposure
func (p *Position) IsFlat() bool {
	return p.Side == event.SideFlat || p.Size == 0
}

// SideSign returns +1 for long, -1 for short, 0 for flat
func (p *Position) SideSign() int64 {
	return p.Side.Sign()
}
