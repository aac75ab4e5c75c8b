package fixmath

import "testing"

func TestComputeFundingRate(t *testing.T) {
	// Mark 60500, index 60000: (500/60000)/8 = 0.00104166..., rounds
	// to 0.00104167 at rate scale.
	got := ComputeFundingRate(6_050_000, 6_000_000, 1_000_000)
	if got != 104_167 {
		t.Errorf("rate = %d, want %d", got, 104_167)
	}

	// Mark below index: negative rate, same magnitude.
	got = ComputeFundingRate(5_950_000, 6_000_000, 1_000_000)
	if got != -104_167 {
		t.Errorf("rate = %d, want %d", got, -104_167)
	}

	// Mark equal to index: zero.
	if got := ComputeFundingRate(6_000_000, 6_000_000, 1_000_000); got != 0 {
		t.Errorf("rate = %d, want 0", got)
	}

	// Extreme divergence clamps at +-1%.
	if got := ComputeFundingRate(12_000_000, 6_000_000, 1_000_000); got != 1_000_000 {
		t.Errorf("clamped rate = %d, want %d", got, 1_000_000)
	}
	if got := ComputeFundingRate(1_000_000, 6_000_000, 1_000_000); got != -1_000_000 {
		t.Errorf("clamped rate = %d, want %d", got, -1_000_000)
	}

	// Degenerate index.
	if got := ComputeFundingRate(6_000_000, 0, 1_000_000); got != 0 {
		t.Errorf("zero index rate = %d, want 0", got)
	}
}

func TestComputeFundingPayment(t *testing.T) {
	// Long 1 BTC at mark 60500 with rate 0.00104167 pays ~63.02 USDT.
	got := ComputeFundingPayment(104_167, 1_000_000, 6_050_000, 1)
	if got != 63_021_035 {
		t.Errorf("long payment = %d, want %d", got, 63_021_035)
	}

	// The matched short receives the mirror amount.
	got = ComputeFundingPayment(104_167, 1_000_000, 6_050_000, -1)
	if got != -63_021_035 {
		t.Errorf("short payment = %d, want %d", got, -63_021_035)
	}

	// Negative rate flips the direction.
	got = ComputeFundingPayment(-104_167, 1_000_000, 6_050_000, 1)
	if got != -63_021_035 {
		t.Errorf("long payment at negative rate = %d, want %d", got, -63_021_035)
	}
}

func TestComputeFundingSettlementDeterministicOrder(t *testing.T) {
	positions := []PositionForFunding{
		{UserID: [16]byte{9}, Size: 1_000_000, SideSign: 1},
		{UserID: [16]byte{1}, Size: 1_000_000, SideSign: -1},
		{UserID: [16]byte{5}, Size: 0, SideSign: 0}, // flat, skipped
	}

	s := ComputeFundingSettlement("BTC-USDT-PERP", 104_167, 6_050_000, 6_000_000, positions)

	if len(s.Payments) != 2 {
		t.Fatalf("payments = %d, want 2", len(s.Payments))
	}
	if s.Payments[0].UserID != [16]byte{1} || s.Payments[1].UserID != [16]byte{9} {
		t.Errorf("payments not in user-id order: %v", s.Payments)
	}
	if s.Payments[0].Payment != -63_021_035 {
		t.Errorf("short payment = %d, want %d", s.Payments[0].Payment, -63_021_035)
	}
	if s.Payments[1].Payment != 63_021_035 {
		t.Errorf("long payment = %d, want %d", s.Payments[1].Payment, 63_021_035)
	}
	if s.RoundingFee != 0 {
		t.Errorf("rounding fee = %d, want 0 for matched book", s.RoundingFee)
	}
}

func TestComputeFundingSettlementResidual(t *testing.T) {
	// Sizes chosen so per-user rounding does not cancel exactly.
	positions := []PositionForFunding{
		{UserID: [16]byte{1}, Size: 333_333, SideSign: 1},
		{UserID: [16]byte{2}, Size: 333_333, SideSign: -1},
		{UserID: [16]byte{3}, Size: 1, SideSign: 1},
	}

	s := ComputeFundingSettlement("BTC-USDT-PERP", 104_167, 6_050_000, 6_000_000, positions)

	var sum int64
	for _, p := range s.Payments {
		sum += p.Payment
	}
	if sum != s.RoundingFee {
		t.Errorf("payments sum %d does not equal residual %d", sum, s.RoundingFee)
	}
}
