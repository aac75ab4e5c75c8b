// Package event holds the immutable records the trading core emits:
// fills, funding applications, and liquidations, plus the shared side
// enum. Records are append-only once emitted.
package event

import "fmt"

// Side represents trade or position direction. Buy orders are long,
// sell orders are short; a position with no exposure is flat.
type Side int32

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	case SideFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// Opposite returns the matching counter-side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// ParseSide accepts both order ("buy"/"sell") and position
// ("long"/"short") vocabulary.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "long":
		return SideLong, nil
	case "sell", "short":
		return SideShort, nil
	default:
		return SideFlat, fmt.Errorf("invalid side %q", s)
	}
}

// MarshalJSON encodes the side as its string form.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the same vocabulary as ParseSide.
func (s *Side) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return fmt.Errorf("side must be a JSON string, got %s", raw)
	}
	parsed, err := ParseSide(raw[1 : len(raw)-1])
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
