package state

import "fmt"

// RiskParams defines margin and matching parameters for the instrument
type RiskParams struct {
	Market                 string
	MMFraction             int64 // Maintenance margin (decimal_precision=6, scale=1_000_000)
	LiquidationFeeFraction int64 // Fee on liquidation notional, same scale
	MaxLeverage            int64
	TickSize               int64 // Minimum price increment, price scale units
	LotSize                int64 // Minimum quantity increment, quantity scale units
	FundingRateCap         int64 // Clamp on |funding rate|, rate scale units
}

// DefaultRiskParams returns the standard parameter set: 5% maintenance
// margin, 1% liquidation fee, leverage 1..10, funding clamped at 1%.
func DefaultRiskParams(market string) *RiskParams {
	return &RiskParams{
		Market:                 market,
		MMFraction:             50_000, // 5%
		LiquidationFeeFraction: 10_000, // 1%
		MaxLeverage:            10,
		TickSize:               1, // 0.01 USDT
		LotSize:                1, // 0.000001 BTC
		FundingRateCap:         1_000_000, // 1%
	}
}

// Validate checks that risk parameters are within valid ranges
func (p *RiskParams) Validate() error {
	if p.Market == "" {
		return fmt.Errorf("market must be set")
	}
	if p.MMFraction <= 0 || p.MMFraction >= 1_000_000 {
		return fmt.Errorf("mm_fraction out of range: %d", p.MMFraction)
	}
	if p.LiquidationFeeFraction < 0 || p.LiquidationFeeFraction >= 1_000_000 {
		return fmt.Errorf("liquidation_fee_fraction out of range: %d", p.LiquidationFeeFraction)
	}
	if p.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be > 0, got %d", p.MaxLeverage)
	}
	if p.TickSize <= 0 {
		return fmt.Errorf("tick_size must be > 0, got %d", p.TickSize)
	}
	if p.LotSize <= 0 {
		return fmt.Errorf("lot_size must be > 0, got %d", p.LotSize)
	}
	if p.FundingRateCap <= 0 {
		return fmt.Errorf("funding_rate_cap must be > 0, got %d", p.FundingRateCap)
	}
	return nil
}
