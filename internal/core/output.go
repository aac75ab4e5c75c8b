package core

import (
	"PerpSim/internal/event"
	"PerpSim/internal/ledger"
)

// OutputKind identifies the input event an Output resulted from.
type OutputKind string

const (
	OutputKindOrder   OutputKind = "order"
	OutputKindCancel  OutputKind = "cancel"
	OutputKindPrice   OutputKind = "price"
	OutputKindFunding OutputKind = "funding"
)

// Output is the immutable record the core emits after applying one
// input event: everything downstream consumers (persistence, outbound
// publishing) need, sealed under the state hash for that sequence.
type Output struct {
	Sequence     int64
	Kind         OutputKind
	Fills        []event.Fill
	Funding      *event.FundingEvent
	Liquidations []event.LiquidationEvent
	Batches      []*ledger.Batch
	StateHash    [32]byte
	Timestamp    int64 // Versioned input timestamp, epoch micros
}
