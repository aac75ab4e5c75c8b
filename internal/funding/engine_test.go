package funding_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpSim/internal/event"
	"PerpSim/internal/funding"
	"PerpSim/internal/ledger"
	"PerpSim/internal/state"
)

const market = "BTC-USDT-PERP"

type fixture struct {
	positions *state.PositionManager
	balances  *ledger.BalanceTracker
	engine    *funding.Engine
}

func newFixture() *fixture {
	positions := state.NewPositionManager(market)
	balances := ledger.NewBalanceTracker()
	journals := ledger.NewJournalGenerator(0, market)
	validator := ledger.NewInvariantValidator(balances)
	params := state.DefaultRiskParams(market)

	return &fixture{
		positions: positions,
		balances:  balances,
		engine:    funding.NewEngine(market, positions, journals, balances, validator, params),
	}
}

func (f *fixture) seed(userID uuid.UUID, amount int64) {
	jg := ledger.NewJournalGenerator(1000, market)
	batch, _ := jg.GenerateSeedDeposit(userID, amount, 1)
	if err := f.balances.ApplyBatch(batch); err != nil {
		panic(err)
	}
}

func TestApply_MatchedBookZeroSum(t *testing.T) {
	f := newFixture()
	long := uuid.New()
	short := uuid.New()
	f.seed(long, 100_000_000_000)
	f.seed(short, 100_000_000_000)

	f.positions.ApplyTradeFill(long, event.SideLong, 1_000_000, 6_050_000, 5)
	f.positions.ApplyTradeFill(short, event.SideShort, 1_000_000, 6_050_000, 5)

	evt, batch, err := f.engine.Apply(6_050_000, 6_000_000, 100)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if batch == nil {
		t.Fatal("expected a settlement batch")
	}

	if evt.Rate != 104_167 {
		t.Errorf("rate = %d, want 104_167", evt.Rate)
	}
	if len(evt.Payments) != 2 {
		t.Fatalf("payments = %d, want 2", len(evt.Payments))
	}

	var sum int64
	for _, p := range evt.Payments {
		sum += p.Amount
	}
	if sum != evt.Residual {
		t.Errorf("payments sum %d != residual %d", sum, evt.Residual)
	}

	// Long paid 63.021035, short received it.
	if got := f.balances.CollateralOf(long); got != 100_000_000_000-63_021_035 {
		t.Errorf("long collateral = %d", got)
	}
	if got := f.balances.CollateralOf(short); got != 100_000_000_000+63_021_035 {
		t.Errorf("short collateral = %d", got)
	}
}

func TestApply_NegativeRateReversesDirection(t *testing.T) {
	f := newFixture()
	long := uuid.New()
	short := uuid.New()

	f.positions.ApplyTradeFill(long, event.SideLong, 1_000_000, 5_950_000, 5)
	f.positions.ApplyTradeFill(short, event.SideShort, 1_000_000, 5_950_000, 5)

	// Mark below index: shorts pay, longs receive.
	evt, _, err := f.engine.Apply(5_950_000, 6_000_000, 100)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if evt.Rate >= 0 {
		t.Fatalf("rate = %d, want negative", evt.Rate)
	}

	if f.balances.CollateralOf(long) <= 0 {
		t.Error("long should have received funding")
	}
	if f.balances.CollateralOf(short) >= 0 {
		t.Error("short should have paid funding")
	}
}

func TestApply_NoPositionsRecordsEventOnly(t *testing.T) {
	f := newFixture()

	evt, batch, err := f.engine.Apply(6_050_000, 6_000_000, 100)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if batch != nil {
		t.Error("no positions should produce no batch")
	}
	if len(evt.Payments) != 0 {
		t.Errorf("payments = %d, want 0", len(evt.Payments))
	}
	if f.engine.LastApplied() != 100 {
		t.Errorf("last applied = %d, want 100", f.engine.LastApplied())
	}
}

func TestApply_DuplicateTimestampRejected(t *testing.T) {
	f := newFixture()
	long := uuid.New()
	f.positions.ApplyTradeFill(long, event.SideLong, 1_000_000, 6_050_000, 5)

	if _, _, err := f.engine.Apply(6_050_000, 6_000_000, 100); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	before := f.balances.CollateralOf(long)

	_, _, err := f.engine.Apply(6_050_000, 6_000_000, 100)
	var dup *funding.ErrDuplicateApplication
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want ErrDuplicateApplication", err)
	}

	if got := f.balances.CollateralOf(long); got != before {
		t.Errorf("duplicate application mutated collateral: %d -> %d", before, got)
	}
}

func TestApply_InvalidPricesRejected(t *testing.T) {
	f := newFixture()

	if _, _, err := f.engine.Apply(6_000_000, 0, 100); err == nil {
		t.Error("zero index must be rejected")
	}
	if _, _, err := f.engine.Apply(0, 6_000_000, 100); err == nil {
		t.Error("zero mark must be rejected")
	}
	if f.engine.LastApplied() != 0 {
		t.Error("rejected application must not advance last-applied")
	}
}

func TestApply_RateClamped(t *testing.T) {
	f := newFixture()
	f.positions.ApplyTradeFill(uuid.New(), event.SideLong, 1_000_000, 9_000_000, 5)

	// Mark 50% above index: raw rate 6.25%, clamped to 1%.
	evt, _, err := f.engine.Apply(9_000_000, 6_000_000, 100)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if evt.Rate != 1_000_000 {
		t.Errorf("rate = %d, want clamp 1_000_000", evt.Rate)
	}
}
