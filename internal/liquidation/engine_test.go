package liquidation_test

import (
	"testing"

	"github.com/google/uuid"

	"PerpSim/internal/event"
	"PerpSim/internal/liquidation"
	"PerpSim/internal/state"
)

const market = "BTC-USDT-PERP"

type stubCollateral map[uuid.UUID]int64

func (s stubCollateral) CollateralOf(userID uuid.UUID) int64 {
	return s[userID]
}

// recordingCloser flattens the position so the sweep invariants can be
// checked without dragging in the full ledger.
type recordingCloser struct {
	positions *state.PositionManager
	closed    []event.LiquidationEvent
}

func (c *recordingCloser) CloseForLiquidation(pos *state.Position, markPrice, equity, mm, timestamp int64) event.LiquidationEvent {
	closingSide := pos.Side.Opposite()
	c.positions.ApplyTradeFill(pos.UserID, closingSide, pos.Size, markPrice, pos.Leverage)

	evt := event.LiquidationEvent{
		EventID:           uuid.New(),
		Market:            market,
		UserID:            pos.UserID,
		MarkPrice:         markPrice,
		EquityBefore:      equity,
		MaintenanceMargin: mm,
		Timestamp:         timestamp,
	}
	c.closed = append(c.closed, evt)
	return evt
}

type fixture struct {
	positions  *state.PositionManager
	collateral stubCollateral
	closer     *recordingCloser
	engine     *liquidation.Engine
}

func newFixture() *fixture {
	positions := state.NewPositionManager(market)
	collateral := stubCollateral{}
	margin := state.NewMarginCalculator(positions, collateral, state.DefaultRiskParams(market))
	closer := &recordingCloser{positions: positions}

	return &fixture{
		positions:  positions,
		collateral: collateral,
		closer:     closer,
		engine:     liquidation.NewEngine(positions, margin, closer),
	}
}

func TestSweep_HealthyPositionUntouched(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.collateral[userID] = 10_000_000_000

	// Long 1 @ 59500, mark 54000: equity 4500 >= mm 2700.
	f.positions.ApplyTradeFill(userID, event.SideLong, 1_000_000, 5_950_000, 5)
	f.positions.UpdateMarkPrice(5_400_000, 1, 100)

	events := f.engine.Sweep(5_400_000, 100)
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
	if f.positions.GetPosition(userID) == nil {
		t.Error("healthy position must survive the sweep")
	}
}

func TestSweep_UndermarginedPositionClosed(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.collateral[userID] = 10_000_000_000

	// Long 1 @ 59500, mark 51000: equity 1500 < mm 2550.
	f.positions.ApplyTradeFill(userID, event.SideLong, 1_000_000, 5_950_000, 5)
	f.positions.UpdateMarkPrice(5_100_000, 1, 100)

	events := f.engine.Sweep(5_100_000, 100)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].EquityBefore != 1_500_000_000 {
		t.Errorf("equity before = %d, want 1_500_000_000", events[0].EquityBefore)
	}
	if events[0].MaintenanceMargin != 2_550_000_000 {
		t.Errorf("mm = %d, want 2_550_000_000", events[0].MaintenanceMargin)
	}
	if f.positions.GetPosition(userID) != nil {
		t.Error("liquidated position must be removed")
	}
}

func TestSweep_DeterministicOrderAcrossUsers(t *testing.T) {
	f := newFixture()

	// Three doomed longs with almost no collateral.
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, u := range users {
		f.collateral[u] = 1_000_000
		f.positions.ApplyTradeFill(u, event.SideLong, 1_000_000, 6_000_000, 10)
	}
	f.positions.UpdateMarkPrice(5_000_000, 1, 100)

	events := f.engine.Sweep(5_000_000, 100)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].UserID.String() >= events[i].UserID.String() {
			t.Fatalf("liquidations not in user-id order at %d", i)
		}
	}
}

func TestSweep_ClosedPositionsNotRevisited(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.collateral[userID] = 1_000_000
	f.positions.ApplyTradeFill(userID, event.SideLong, 1_000_000, 6_000_000, 10)
	f.positions.UpdateMarkPrice(5_000_000, 1, 100)

	if events := f.engine.Sweep(5_000_000, 100); len(events) != 1 {
		t.Fatalf("first sweep events = %d, want 1", len(events))
	}

	// A second sweep at the same price finds nothing: the position is
	// gone, even though the account may now be deep in deficit.
	if events := f.engine.Sweep(5_000_000, 101); len(events) != 0 {
		t.Errorf("second sweep events = %d, want 0", len(events))
	}
}
