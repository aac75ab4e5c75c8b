package fixmath

import (
	"math/big"
	"sort"
)

// ComputeFundingRate calculates the funding rate from mark and index
// prices: (mark - index) / index * 1/8, in rate scale, clamped to
// [-cap, +cap]. Index must be positive; a zero index yields rate 0.
func ComputeFundingRate(markPrice, indexPrice, rateCap int64) int64 {
	if indexPrice <= 0 {
		return 0
	}

	// rate = (mark - index) * RateScale / (index * 8), rounded once.
	numerator := MultiplyInt128(markPrice-indexPrice, RateConfig.Scale)
	rate := DivideInt128(numerator, indexPrice*8, RoundHalfEven)
	putInt128(numerator)

	if rate > rateCap {
		return rateCap
	}
	if rate < -rateCap {
		return -rateCap
	}
	return rate
}

// ComputeFundingPayment calculates the funding payment for one position.
// Positive means the user pays, negative means the user receives.
func ComputeFundingPayment(
	fundingRate int64, // Rate scale: 100_000_000
	positionSize int64, // Quantity scale: 1_000_000
	markPrice int64, // Price scale: 100
	sideSign int64, // +1 for long, -1 for short
) int64 {
	// raw = fundingRate * positionSize * markPrice
	temp1 := MultiplyInt128(fundingRate, positionSize)
	temp2 := getInt128()
	temp2.Mul(temp1, big.NewInt(markPrice))

	// intermediate scale = R_s * Q_s * P_s = 10^16, target scale = 10^6
	denominator := int64(10_000_000_000) // 10^16 / 10^6 = 10^10

	payment := DivideInt128(temp2, denominator, RoundHalfEven)

	putInt128(temp1)
	putInt128(temp2)

	// Long + positive rate pays; short + positive rate receives.
	return payment * sideSign
}

// FundingSettlement is the computed funding transfer set for one
// funding application.
type FundingSettlement struct {
	Market      string
	FundingRate int64
	MarkPrice   int64
	IndexPrice  int64
	Payments    []UserPayment
	RoundingFee int64 // Residual posted to the fees account
}

type UserPayment struct {
	UserID  [16]byte // UUID binary
	Payment int64    // Signed: positive = pays, negative = receives
}

// PositionForFunding is the minimal position view funding needs.
type PositionForFunding struct {
	UserID   [16]byte
	Size     int64
	SideSign int64
}

// ComputeFundingSettlement calculates funding across all open positions.
// Positions are processed in ascending user-id byte order so the
// settlement is deterministic regardless of map iteration.
func ComputeFundingSettlement(
	market string,
	fundingRate int64,
	markPrice int64,
	indexPrice int64,
	positions []PositionForFunding,
) *FundingSettlement {
	sort.Slice(positions, func(i, j int) bool {
		for k := 0; k < 16; k++ {
			if positions[i].UserID[k] != positions[j].UserID[k] {
				return positions[i].UserID[k] < positions[j].UserID[k]
			}
		}
		return false
	})

	payments := make([]UserPayment, 0, len(positions))
	var totalPaid, totalReceived int64

	for _, pos := range positions {
		if pos.Size == 0 {
			continue
		}

		payment := ComputeFundingPayment(
			fundingRate,
			pos.Size,
			markPrice,
			pos.SideSign,
		)

		if payment != 0 {
			payments = append(payments, UserPayment{
				UserID:  pos.UserID,
				Payment: payment,
			})

			if payment > 0 {
				totalPaid += payment
			} else {
				totalReceived += -payment
			}
		}
	}

	// Per-user rounding leaves a residual; it goes to fees so the
	// settlement stays zero-sum in the ledger.
	roundingFee := totalPaid - totalReceived

	return &FundingSettlement{
		Market:      market,
		FundingRate: fundingRate,
		MarkPrice:   markPrice,
		IndexPrice:  indexPrice,
		Payments:    payments,
		RoundingFee: roundingFee,
	}
}
