// Package report renders the core's end-of-run state as JSON, both to
// a file and over a read-only HTTP API. All amounts are decimal
// strings; fixed-point integers never leave the module boundary.
package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"PerpSim/internal/core"
	"PerpSim/internal/fixmath"
)

type AccountReport struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type PositionReport struct {
	UserID            string `json:"user_id"`
	Side              string `json:"side"`
	Size              string `json:"size"`
	EntryPrice        string `json:"entry_price"`
	Leverage          int64  `json:"leverage"`
	UnrealizedPnL     string `json:"unrealized_pnl"`
	Notional          string `json:"notional"`
	Equity            string `json:"equity"`
	InitialMargin     string `json:"initial_margin"`
	MaintenanceMargin string `json:"maintenance_margin"`
}

type FillReport struct {
	FillID      string `json:"fill_id"`
	MakerUserID string `json:"maker_user_id,omitempty"`
	TakerUserID string `json:"taker_user_id"`
	TakerSide   string `json:"taker_side"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
	Liquidation bool   `json:"liquidation,omitempty"`
}

type FundingPaymentReport struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type FundingReport struct {
	Rate        string                 `json:"rate"`
	MarkPrice   string                 `json:"mark_price"`
	IndexPrice  string                 `json:"index_price"`
	Payments    []FundingPaymentReport `json:"payments"`
	Residual    string                 `json:"residual"`
	Sequence    int64                  `json:"sequence"`
	TimestampUs int64                  `json:"timestamp_us"`
}

type LiquidationReport struct {
	UserID            string `json:"user_id"`
	Side              string `json:"side"`
	Quantity          string `json:"quantity"`
	EntryPrice        string `json:"entry_price"`
	MarkPrice         string `json:"mark_price"`
	RealizedPnL       string `json:"realized_pnl"`
	Fee               string `json:"fee"`
	EquityBefore      string `json:"equity_before"`
	MaintenanceMargin string `json:"maintenance_margin"`
	CollateralAfter   string `json:"collateral_after"`
	Sequence          int64  `json:"sequence"`
	TimestampUs       int64  `json:"timestamp_us"`
}

type LevelReport struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

type BookReport struct {
	Bids []LevelReport `json:"bids"`
	Asks []LevelReport `json:"asks"`
}

// Report is the full end-of-run snapshot.
type Report struct {
	Market       string              `json:"market"`
	Sequence     int64               `json:"sequence"`
	StateHash    string              `json:"state_hash"`
	MarkPrice    string              `json:"mark_price,omitempty"`
	Accounts     []AccountReport     `json:"accounts"`
	Positions    []PositionReport    `json:"positions"`
	Book         BookReport          `json:"book"`
	Fills        []FillReport        `json:"fills"`
	Funding      []FundingReport     `json:"funding"`
	Liquidations []LiquidationReport `json:"liquidations"`
}

func price(v int64) string    { return fixmath.FormatDecimal(v, fixmath.PriceConfig) }
func quantity(v int64) string { return fixmath.FormatDecimal(v, fixmath.QuantityConfig) }
func quote(v int64) string    { return fixmath.FormatDecimal(v, fixmath.QuoteConfig) }
func rate(v int64) string     { return fixmath.FormatDecimal(v, fixmath.RateConfig) }

// Build assembles a report from the core's read-side snapshots.
func Build(market string, c *core.ExchangeCore) (*Report, error) {
	hash := c.StateHash()
	r := &Report{
		Market:       market,
		Sequence:     c.Sequence(),
		StateHash:    hex.EncodeToString(hash[:]),
		Accounts:     []AccountReport{},
		Positions:    []PositionReport{},
		Fills:        []FillReport{},
		Funding:      []FundingReport{},
		Liquidations: []LiquidationReport{},
	}

	if mark, ok := c.MarkPrice(); ok {
		r.MarkPrice = price(mark)
	}

	for _, acct := range c.Accounts() {
		r.Accounts = append(r.Accounts, AccountReport{
			Account: acct.Path,
			Balance: quote(acct.Balance),
		})
	}

	positions, err := buildPositions(c)
	if err != nil {
		return nil, err
	}
	r.Positions = positions

	bids, asks := c.Depth(0)
	for _, lvl := range bids {
		r.Book.Bids = append(r.Book.Bids, LevelReport{Price: price(lvl.Price), Quantity: quantity(lvl.Quantity), Orders: lvl.Orders})
	}
	for _, lvl := range asks {
		r.Book.Asks = append(r.Book.Asks, LevelReport{Price: price(lvl.Price), Quantity: quantity(lvl.Quantity), Orders: lvl.Orders})
	}

	for _, f := range c.Fills() {
		fr := FillReport{
			FillID:      f.FillID.String(),
			TakerUserID: f.TakerUserID.String(),
			TakerSide:   f.TakerSide.String(),
			Price:       price(f.Price),
			Quantity:    quantity(f.Quantity),
			Sequence:    f.Sequence,
			TimestampUs: f.Timestamp,
			Liquidation: f.Liquidation,
		}
		if !f.Liquidation {
			fr.MakerUserID = f.MakerUserID.String()
		}
		r.Fills = append(r.Fills, fr)
	}

	for _, f := range c.FundingEvents() {
		fr := FundingReport{
			Rate:        rate(f.Rate),
			MarkPrice:   price(f.MarkPrice),
			IndexPrice:  price(f.IndexPrice),
			Payments:    []FundingPaymentReport{},
			Residual:    quote(f.Residual),
			Sequence:    f.Sequence,
			TimestampUs: f.Timestamp,
		}
		for _, p := range f.Payments {
			fr.Payments = append(fr.Payments, FundingPaymentReport{
				UserID: p.UserID.String(),
				Amount: quote(p.Amount),
			})
		}
		r.Funding = append(r.Funding, fr)
	}

	for _, l := range c.LiquidationEvents() {
		r.Liquidations = append(r.Liquidations, LiquidationReport{
			UserID:            l.UserID.String(),
			Side:              l.Side.String(),
			Quantity:          quantity(l.Quantity),
			EntryPrice:        price(l.EntryPrice),
			MarkPrice:         price(l.MarkPrice),
			RealizedPnL:       quote(l.RealizedPnL),
			Fee:               quote(l.Fee),
			EquityBefore:      quote(l.EquityBefore),
			MaintenanceMargin: quote(l.MaintenanceMargin),
			CollateralAfter:   quote(l.CollateralAfter),
			Sequence:          l.Sequence,
			TimestampUs:       l.Timestamp,
		})
	}

	return r, nil
}

func buildPositions(c *core.ExchangeCore) ([]PositionReport, error) {
	margin := c.Margin()
	out := []PositionReport{}

	for _, pos := range c.OpenPositions() {
		upnl, err := c.UnrealizedPnL(pos.UserID)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", pos.UserID, err)
		}
		equity, err := margin.ComputeEquity(pos.UserID)
		if err != nil {
			return nil, err
		}
		mm, err := margin.ComputeMaintenanceMargin(pos)
		if err != nil {
			return nil, err
		}
		im, err := margin.ComputeInitialMargin(pos)
		if err != nil {
			return nil, err
		}
		notional, err := c.Notional(pos)
		if err != nil {
			return nil, err
		}

		out = append(out, PositionReport{
			UserID:            pos.UserID.String(),
			Side:              pos.Side.String(),
			Size:              quantity(pos.Size),
			EntryPrice:        price(pos.AvgEntryPrice),
			Leverage:          pos.Leverage,
			UnrealizedPnL:     quote(upnl),
			Notional:          quote(notional),
			Equity:            quote(equity),
			InitialMargin:     quote(im),
			MaintenanceMargin: quote(mm),
		})
	}

	return out, nil
}

// Write serializes the report to path with indentation.
func Write(r *Report, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
