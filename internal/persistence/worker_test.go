package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"PerpSim/internal/core"
	"PerpSim/internal/event"
	"PerpSim/internal/observability"
	"PerpSim/internal/state"
	"PerpSim/internal/testutil"
)

func TestMultiInsertPlaceholders(t *testing.T) {
	got := multiInsert(2, 3)
	want := "($1, $2, $3), ($4, $5, $6)"
	if got != want {
		t.Errorf("multiInsert = %q, want %q", got, want)
	}
}

func TestCollectConvertsOutputRows(t *testing.T) {
	w := &Worker{log: observability.NewLogger("test")}

	taker := uuid.New()
	maker := uuid.New()
	out := core.Output{
		Sequence:  7,
		Kind:      core.OutputKindOrder,
		Timestamp: 1000,
		Fills: []event.Fill{
			{
				FillID:      uuid.New(),
				Market:      "BTC-USDT-PERP",
				MakerUserID: maker,
				TakerUserID: taker,
				TakerSide:   event.SideLong,
				Price:       5_950_000,
				Quantity:    1_000_000,
				Sequence:    1,
				Timestamp:   1000,
			},
			{
				FillID:      uuid.New(),
				Market:      "BTC-USDT-PERP",
				TakerUserID: taker,
				TakerSide:   event.SideShort,
				Price:       5_100_000,
				Quantity:    1_000_000,
				Sequence:    2,
				Timestamp:   1000,
				Liquidation: true,
			},
		},
	}

	var batch rowBatch
	w.collect(&batch, out)

	if len(batch.outputs) != 1 || batch.outputs[0].Sequence != 7 || batch.outputs[0].Kind != "order" {
		t.Errorf("outputs = %+v", batch.outputs)
	}
	if len(batch.fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(batch.fills))
	}
	if batch.fills[0].MakerUserID == nil || *batch.fills[0].MakerUserID != maker.String() {
		t.Errorf("trade fill maker = %v", batch.fills[0].MakerUserID)
	}
	if batch.fills[1].MakerUserID != nil {
		t.Error("liquidation fill must have no maker")
	}
}

// TestWorkerPersistsRun drives a real scenario through the core and a
// worker against a live Postgres.
func TestWorkerPersistsRun(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	outputs := make(chan core.Output, 64)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	worker := NewWorker(db, outputs, 10, 50*time.Millisecond, metrics)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	userA := uuid.New()
	userB := uuid.New()
	c, err := core.NewExchangeCore(state.DefaultRiskParams("BTC-USDT-PERP"), []core.AccountSeed{
		{UserID: userA, Collateral: 10_000_000_000},
		{UserID: userB, Collateral: 100_000_000_000},
	}, outputs, metrics)
	if err != nil {
		t.Fatalf("NewExchangeCore: %v", err)
	}

	if _, _, err := c.PlaceOrder(userB, event.SideShort, 1_000_000, 5_950_000, 5, 100); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, _, err := c.PlaceOrder(userA, event.SideLong, 1_000_000, 5_950_000, 5, 101); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := c.UpdatePrice(5_100_000, 200); err != nil {
		t.Fatalf("UpdatePrice: %v", err)
	}

	close(outputs)
	<-done

	var outputCount, fillCount, liqCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM perpsim.outputs`).Scan(&outputCount); err != nil {
		t.Fatalf("count outputs: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM perpsim.fills`).Scan(&fillCount); err != nil {
		t.Fatalf("count fills: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM perpsim.liquidations`).Scan(&liqCount); err != nil {
		t.Fatalf("count liquidations: %v", err)
	}

	if outputCount != 3 {
		t.Errorf("outputs = %d, want 3", outputCount)
	}
	if fillCount != 2 {
		t.Errorf("fills = %d, want 2 (trade + liquidation close)", fillCount)
	}
	if liqCount != 1 {
		t.Errorf("liquidations = %d, want 1", liqCount)
	}
}
