// Package fixmath implements int64 fixed-point arithmetic for monetary
// values. All intermediates go through big.Int so products of scaled
// values cannot overflow; rounding is applied once, at the point a value
// is persisted, using banker's rounding.
package fixmath

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// DecimalConfig defines fixed-point precision for one value class.
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	PriceConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}         // 0.01
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001
	QuoteConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // 0.000001 USDT
	RateConfig     = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // 0.00000001 (funding rate)
)

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The caller owns the returned value until it is passed back via a
// Divide call or putInt128.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// DivideInt128 performs numerator / denominator with the given rounding.
// Denominator must be positive.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	// DivMod is Euclidean: remainder is always in [0, denominator).
	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// DivideRounded divides two int64 values with banker's rounding.
// Used for initial margin = notional / leverage.
func DivideRounded(numerator, denominator int64) int64 {
	num := getInt128()
	num.SetInt64(numerator)
	result := DivideInt128(num, denominator, RoundHalfEven)
	putInt128(num)
	return result
}

// ComputeAvgEntryPrice calculates the volume-weighted average entry price
// after an adding fill.
func ComputeAvgEntryPrice(oldSize, oldAvgEntry, fillQty, fillPrice int64) int64 {
	if oldSize == 0 {
		return fillPrice
	}

	// numerator = oldSize * oldAvgEntry + fillQty * fillPrice
	term1 := MultiplyInt128(oldSize, oldAvgEntry)
	term2 := MultiplyInt128(fillQty, fillPrice)
	numerator := getInt128()
	numerator.Add(term1, term2)

	denominator := oldSize + fillQty

	result := DivideInt128(numerator, denominator, RoundHalfEven)

	putInt128(term1)
	putInt128(term2)
	putInt128(numerator)

	return result
}

// ComputeRealizedPnL calculates PnL for a position reduction.
// sideSign is +1 for long, -1 for short; result is in quote scale.
func ComputeRealizedPnL(
	sideSign int64,
	fillPrice int64, // Price scale
	avgEntryPrice int64, // Price scale
	closeQty int64, // Quantity scale
	priceScale int64,
	qtyScale int64,
	quoteScale int64,
) int64 {
	priceDiff := fillPrice - avgEntryPrice

	// raw_pnl = sideSign * priceDiff * closeQty
	temp := MultiplyInt128(sideSign*priceDiff, closeQty)

	// Convert to quote precision: raw_pnl * quoteScale / (priceScale * qtyScale)
	temp.Mul(temp, big.NewInt(quoteScale))
	denominator := priceScale * qtyScale

	result := DivideInt128(temp, denominator, RoundHalfEven)

	putInt128(temp)

	return result
}

// ComputeUnrealizedPnL calculates mark-to-market PnL of an open position.
func ComputeUnrealizedPnL(
	sideSign int64,
	markPrice int64,
	avgEntryPrice int64,
	positionSize int64,
	priceScale int64,
	qtyScale int64,
	quoteScale int64,
) int64 {
	return ComputeRealizedPnL(
		sideSign,
		markPrice,
		avgEntryPrice,
		positionSize,
		priceScale,
		qtyScale,
		quoteScale,
	)
}

// ComputeNotional calculates position notional value in quote scale.
func ComputeNotional(
	positionSize int64,
	markPrice int64,
	priceScale int64,
	qtyScale int64,
	quoteScale int64,
) int64 {
	raw := MultiplyInt128(positionSize, markPrice)

	raw.Mul(raw, big.NewInt(quoteScale))
	denominator := priceScale * qtyScale

	result := DivideInt128(raw, denominator, RoundHalfEven)

	putInt128(raw)

	return result
}

// ParseDecimal converts a decimal string ("59500", "-0.25") to
// fixed-point units under cfg. Excess fractional digits are rejected,
// not rounded.
func ParseDecimal(s string, cfg DecimalConfig) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, fmt.Errorf("malformed decimal")
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}
	if len(fracPart) > cfg.DecimalPrecision {
		return 0, fmt.Errorf("decimal %q exceeds precision %d", s, cfg.DecimalPrecision)
	}

	var value int64
	for _, c := range intPart + fracPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed decimal %q", s)
		}
		digit := int64(c - '0')
		if value > (1<<63-1-digit)/10 {
			return 0, fmt.Errorf("decimal %q overflows int64", s)
		}
		value = value*10 + digit
	}

	// Pad to full precision.
	for i := len(fracPart); i < cfg.DecimalPrecision; i++ {
		if value > (1<<63-1)/10 {
			return 0, fmt.Errorf("decimal %q overflows int64", s)
		}
		value *= 10
	}

	if negative {
		value = -value
	}
	return value, nil
}

// FormatDecimal renders fixed-point units as a decimal string with the
// full precision of cfg.
func FormatDecimal(v int64, cfg DecimalConfig) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if cfg.DecimalPrecision == 0 {
		return fmt.Sprintf("%s%d", sign, v)
	}
	return fmt.Sprintf("%s%d.%0*d", sign, v/cfg.Scale, cfg.DecimalPrecision, v%cfg.Scale)
}
