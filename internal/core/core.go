// Package core wires the order book, position ledger, funding, and
// liquidation into one single-threaded deterministic state machine.
// Every input event advances the global sequence and extends the state
// hash chain; two runs over the same inputs produce identical chains.
package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpSim/internal/book"
	"PerpSim/internal/event"
	"PerpSim/internal/fixmath"
	"PerpSim/internal/funding"
	"PerpSim/internal/ledger"
	"PerpSim/internal/liquidation"
	"PerpSim/internal/match"
	"PerpSim/internal/observability"
	"PerpSim/internal/state"
)

// AccountSeed funds one user at startup. Only seeded users may trade.
type AccountSeed struct {
	UserID     uuid.UUID
	Collateral int64 // Fixed-point: quote scale
}

// ExchangeCore is the single-threaded event processor for one
// perpetual instrument. It is not safe for concurrent use; the caller
// feeds it events from one goroutine.
type ExchangeCore struct {
	market   string
	params   *state.RiskParams
	sequence int64
	priceSeq int64

	hasher      *StateHasher
	balances    *ledger.BalanceTracker
	journals    *ledger.JournalGenerator
	validator   *ledger.InvariantValidator
	positions   *state.PositionManager
	margin      *state.MarginCalculator
	book        *book.OrderBook
	matcher     *match.Engine
	fundingEng  *funding.Engine
	liquidation *liquidation.Engine

	knownUsers map[uuid.UUID]bool

	// Batches accumulated while applying the current input event.
	pendingBatches []*ledger.Batch

	fills             []event.Fill
	fundingEvents     []event.FundingEvent
	liquidationEvents []event.LiquidationEvent

	outputs chan<- Output
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewExchangeCore builds a core for one market and seeds the configured
// accounts. Seeding happens before sequence 1; the genesis hash covers
// an empty ledger, the first event's hash covers the seeded one.
func NewExchangeCore(
	params *state.RiskParams,
	seeds []AccountSeed,
	outputs chan<- Output,
	metrics *observability.Metrics,
) (*ExchangeCore, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk params: %w", err)
	}

	balances := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balances)
	journals := ledger.NewJournalGenerator(1, params.Market)
	positions := state.NewPositionManager(params.Market)
	margin := state.NewMarginCalculator(positions, balances, params)
	orderBook := book.New()

	c := &ExchangeCore{
		market:     params.Market,
		params:     params,
		hasher:     NewStateHasher(),
		balances:   balances,
		journals:   journals,
		validator:  validator,
		positions:  positions,
		margin:     margin,
		book:       orderBook,
		knownUsers: make(map[uuid.UUID]bool),
		outputs:    outputs,
		log:        observability.NewLogger("core"),
		metrics:    metrics,
	}

	c.matcher = match.NewEngine(params.Market, orderBook, params, c)
	c.fundingEng = funding.NewEngine(params.Market, positions, journals, balances, validator, params)
	c.liquidation = liquidation.NewEngine(positions, margin, c)

	for _, seed := range seeds {
		if c.knownUsers[seed.UserID] {
			return nil, fmt.Errorf("duplicate account seed for %s", seed.UserID)
		}
		batch, err := journals.GenerateSeedDeposit(seed.UserID, seed.Collateral, 0)
		if err != nil {
			return nil, err
		}
		if err := balances.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("apply seed deposit: %w", err)
		}
		c.knownUsers[seed.UserID] = true
	}
	if err := validator.ValidateGlobalBalance(); err != nil {
		return nil, fmt.Errorf("seeded ledger not zero-sum: %w", err)
	}

	c.log.Info().
		Str("market", params.Market).
		Int("accounts", len(seeds)).
		Msg("core initialized")

	return c, nil
}

// PlaceOrder validates and matches one limit order. Rejections return
// an error without mutating anything; accepted orders advance the
// sequence even when nothing matched.
func (c *ExchangeCore) PlaceOrder(
	userID uuid.UUID,
	side event.Side,
	quantity, price, leverage, timestamp int64,
) (*book.Order, []event.Fill, error) {
	start := time.Now()

	if !c.knownUsers[userID] {
		if c.metrics != nil {
			c.metrics.OrdersRejected.Inc()
		}
		return nil, nil, &UnknownUserError{UserID: userID}
	}

	c.pendingBatches = nil
	order, fills, err := c.matcher.PlaceOrder(userID, side, quantity, price, leverage, timestamp)
	if err != nil {
		if c.metrics != nil {
			c.metrics.OrdersRejected.Inc()
		}
		return nil, nil, err
	}

	c.fills = append(c.fills, fills...)

	c.mustBalance()
	out := c.seal(OutputKindOrder, timestamp)
	out.Fills = fills
	c.emit(out)

	if c.metrics != nil {
		c.metrics.OrdersPlaced.WithLabelValues(orderOutcome(order, fills)).Inc()
		c.metrics.FillsTotal.Add(float64(len(fills)))
		c.metrics.RestingOrders.Set(float64(c.book.Len()))
		c.metrics.OpenPositions.Set(float64(len(c.positions.OpenPositions())))
		c.metrics.EventDuration.WithLabelValues(string(OutputKindOrder)).Observe(time.Since(start).Seconds())
	}

	c.log.Debug().
		Int64("order_id", order.ID).
		Str("side", side.String()).
		Int("fills", len(fills)).
		Int64("remaining", order.Remaining).
		Msg("order placed")

	return order, fills, nil
}

func orderOutcome(order *book.Order, fills []event.Fill) string {
	switch {
	case order.Remaining == 0:
		return "filled"
	case len(fills) > 0:
		return "partial"
	default:
		return "resting"
	}
}

// CancelOrder removes a resting order. Unknown ids are a no-op but
// still advance the sequence: the cancel was an input event.
func (c *ExchangeCore) CancelOrder(orderID, timestamp int64) {
	c.pendingBatches = nil
	c.matcher.CancelOrder(orderID)

	out := c.seal(OutputKindCancel, timestamp)
	c.emit(out)

	if c.metrics != nil {
		c.metrics.RestingOrders.Set(float64(c.book.Len()))
	}
}

// UpdatePrice applies a mark price update and sweeps for liquidations.
// Forced closes happen inside the same sequence step as the price that
// caused them.
func (c *ExchangeCore) UpdatePrice(price, timestamp int64) ([]event.LiquidationEvent, error) {
	start := time.Now()

	if price <= 0 {
		return nil, fmt.Errorf("mark price must be positive, got %d", price)
	}

	c.pendingBatches = nil
	c.priceSeq++
	c.positions.UpdateMarkPrice(price, c.priceSeq, timestamp)

	fillsBefore := len(c.fills)
	events := c.liquidation.Sweep(price, timestamp)
	for i := range events {
		events[i].Sequence = c.sequence + 1
		c.liquidationEvents = append(c.liquidationEvents, events[i])
	}

	c.mustBalance()
	out := c.seal(OutputKindPrice, timestamp)
	out.Fills = c.fills[fillsBefore:]
	out.Liquidations = events
	c.emit(out)

	if c.metrics != nil {
		c.metrics.OpenPositions.Set(float64(len(c.positions.OpenPositions())))
		c.metrics.EventDuration.WithLabelValues(string(OutputKindPrice)).Observe(time.Since(start).Seconds())
	}

	return events, nil
}

// ApplyFunding settles funding between longs and shorts at the given
// mark and index prices.
func (c *ExchangeCore) ApplyFunding(markPrice, indexPrice, timestamp int64) (*event.FundingEvent, error) {
	start := time.Now()

	c.pendingBatches = nil
	evt, batch, err := c.fundingEng.Apply(markPrice, indexPrice, timestamp)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		c.pendingBatches = append(c.pendingBatches, batch)
	}

	evt.Sequence = c.sequence + 1
	c.fundingEvents = append(c.fundingEvents, *evt)

	c.mustBalance()
	out := c.seal(OutputKindFunding, timestamp)
	out.Funding = evt
	c.emit(out)

	if c.metrics != nil {
		c.metrics.FundingApplied.Inc()
		c.metrics.EventDuration.WithLabelValues(string(OutputKindFunding)).Observe(time.Since(start).Seconds())
	}

	c.log.Info().
		Int64("rate", evt.Rate).
		Int("payments", len(evt.Payments)).
		Int64("residual", evt.Residual).
		Msg("funding applied")

	return evt, nil
}

// ApplyFill receives one leg of a fill from the matching engine and
// books its position and ledger effects.
func (c *ExchangeCore) ApplyFill(ref string, userID uuid.UUID, side event.Side, quantity, price, leverage, timestamp int64) {
	c.applyFill(ref, userID, side, quantity, price, leverage, timestamp)
}

func (c *ExchangeCore) applyFill(ref string, userID uuid.UUID, side event.Side, quantity, price, leverage, timestamp int64) int64 {
	realized, action := c.positions.ApplyTradeFill(userID, side, quantity, price, leverage)

	if realized != 0 {
		batch := c.journals.GenerateRealizedPnL(userID, realized, ref, timestamp)
		c.mustApply(batch)
	}

	c.log.Debug().
		Str("user_id", userID.String()).
		Str("action", action.String()).
		Int64("quantity", quantity).
		Int64("price", price).
		Int64("realized_pnl", realized).
		Msg("fill applied")

	return realized
}

// CloseForLiquidation force-closes a position at the mark price. The
// close goes through the same fill path as a trade, against a synthetic
// counterparty, then the liquidation fee is charged. Collateral may go
// negative; the deficit stays on the account.
func (c *ExchangeCore) CloseForLiquidation(pos *state.Position, markPrice, equity, maintenanceMargin, timestamp int64) event.LiquidationEvent {
	userID := pos.UserID
	posSide := pos.Side
	size := pos.Size
	entryPrice := pos.AvgEntryPrice
	leverage := pos.Leverage

	notional := fixmath.ComputeNotional(
		size, markPrice,
		fixmath.PriceConfig.Scale,
		fixmath.QuantityConfig.Scale,
		fixmath.QuoteConfig.Scale,
	)
	fee := notional * c.params.LiquidationFeeFraction / 1_000_000

	fill := event.Fill{
		FillID:      uuid.New(),
		Market:      c.market,
		TakerUserID: userID,
		TakerSide:   posSide.Opposite(),
		Price:       markPrice,
		Quantity:    size,
		Sequence:    c.matcher.AllocateFillSequence(),
		Timestamp:   timestamp,
		Liquidation: true,
	}
	ref := fill.FillID.String()

	realized := c.applyFill(ref, userID, posSide.Opposite(), size, markPrice, leverage, timestamp)
	c.fills = append(c.fills, fill)

	if fee > 0 {
		batch, err := c.journals.GenerateLiquidationFee(userID, fee, ref, timestamp)
		if err != nil {
			panic(fmt.Sprintf("FATAL: liquidation fee batch failed: %v", err))
		}
		c.mustApply(batch)
	}

	collateralAfter := c.balances.CollateralOf(userID)
	if collateralAfter < 0 {
		if c.metrics != nil {
			c.metrics.NegativeCollateral.Inc()
		}
		c.log.Warn().
			Str("user_id", userID.String()).
			Int64("collateral", collateralAfter).
			Msg("liquidation left account below zero")
	}
	if c.metrics != nil {
		c.metrics.Liquidations.Inc()
	}

	c.log.Info().
		Str("user_id", userID.String()).
		Str("side", posSide.String()).
		Int64("quantity", size).
		Int64("mark_price", markPrice).
		Int64("fee", fee).
		Int64("collateral_after", collateralAfter).
		Msg("position liquidated")

	return event.LiquidationEvent{
		EventID:           uuid.New(),
		Market:            c.market,
		UserID:            userID,
		Side:              posSide,
		Quantity:          size,
		EntryPrice:        entryPrice,
		MarkPrice:         markPrice,
		Notional:          notional,
		RealizedPnL:       realized,
		Fee:               fee,
		EquityBefore:      equity,
		MaintenanceMargin: maintenanceMargin,
		CollateralAfter:   collateralAfter,
		Timestamp:         timestamp,
	}
}

// mustApply validates a batch, applies it, and queues it for output.
// Failures here are bookkeeping bugs, not input errors.
func (c *ExchangeCore) mustApply(batch *ledger.Batch) {
	if len(batch.Journals) == 0 {
		return
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := c.balances.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
	}
	c.pendingBatches = append(c.pendingBatches, batch)
}

func (c *ExchangeCore) mustBalance() {
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}
}

// seal advances the sequence and extends the hash chain over the
// post-event ledger snapshot.
func (c *ExchangeCore) seal(kind OutputKind, timestamp int64) Output {
	c.sequence++

	digest := c.stateDigest()
	hash := c.hasher.ComputeHash(c.sequence, digest)

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return Output{
		Sequence:  c.sequence,
		Kind:      kind,
		Batches:   c.pendingBatches,
		StateHash: hash,
		Timestamp: timestamp,
	}
}

// stateDigest serializes the sorted balance snapshot. Account paths
// give a canonical order, so the digest is deterministic.
func (c *ExchangeCore) stateDigest() []byte {
	snapshot := c.balances.SortedSnapshot()
	digest := make([]byte, 0, len(snapshot)*32)

	var buf [8]byte
	for _, entry := range snapshot {
		digest = append(digest, entry.Path...)
		binary.LittleEndian.PutUint64(buf[:], uint64(entry.Balance))
		digest = append(digest, buf[:]...)
	}
	return digest
}

func (c *ExchangeCore) emit(out Output) {
	if c.outputs == nil {
		return
	}
	select {
	case c.outputs <- out:
	default:
		if c.metrics != nil {
			c.metrics.PublishDrops.Inc()
		}
		c.log.Warn().Int64("sequence", out.Sequence).Msg("output channel full, dropping")
	}
}

// ============================================================================
// Read-side accessors
// ============================================================================

// Sequence returns the last assigned sequence number.
func (c *ExchangeCore) Sequence() int64 {
	return c.sequence
}

// StateHash returns the current tip of the hash chain.
func (c *ExchangeCore) StateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// MarkPrice returns the latest mark price, if one has been set.
func (c *ExchangeCore) MarkPrice() (int64, bool) {
	return c.positions.MarkPrice()
}

// Position returns the user's open position or nil.
func (c *ExchangeCore) Position(userID uuid.UUID) *state.Position {
	return c.positions.GetPosition(userID)
}

// OpenPositions returns all open positions in canonical order.
func (c *ExchangeCore) OpenPositions() []*state.Position {
	return c.positions.OpenPositions()
}

// CollateralOf returns the user's collateral balance, negative or not.
func (c *ExchangeCore) CollateralOf(userID uuid.UUID) int64 {
	return c.balances.CollateralOf(userID)
}

// UnrealizedPnL returns the user's unrealized PnL at the current mark
// price. Flat users have zero; an open position with no mark price set
// is an error.
func (c *ExchangeCore) UnrealizedPnL(userID uuid.UUID) (int64, error) {
	pos := c.positions.GetPosition(userID)
	if pos == nil {
		return 0, nil
	}
	return c.positions.ComputeUnrealizedPnL(pos)
}

// Notional returns the position's notional at the current mark price.
func (c *ExchangeCore) Notional(pos *state.Position) (int64, error) {
	return c.positions.ComputeNotional(pos)
}

// Margin exposes the margin calculator for derived metrics.
func (c *ExchangeCore) Margin() *state.MarginCalculator {
	return c.margin
}

// Accounts returns the sorted ledger snapshot.
func (c *ExchangeCore) Accounts() []ledger.AccountBalance {
	return c.balances.SortedSnapshot()
}

// Depth returns up to n aggregated levels per side.
func (c *ExchangeCore) Depth(n int) (bids, asks []book.DepthLevel) {
	return c.book.Depth(n)
}

// Fills returns every fill in execution order, liquidation closes
// included.
func (c *ExchangeCore) Fills() []event.Fill {
	return c.fills
}

// FundingEvents returns every funding application in order.
func (c *ExchangeCore) FundingEvents() []event.FundingEvent {
	return c.fundingEvents
}

// LiquidationEvents returns every forced close in order.
func (c *ExchangeCore) LiquidationEvents() []event.LiquidationEvent {
	return c.liquidationEvents
}
