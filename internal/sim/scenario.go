// Package sim drives the exchange core from a scenario document: a
// time-ordered script of orders, mark price updates, and funding
// applications over a set of seeded accounts.
package sim

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"PerpSim/internal/event"
	"PerpSim/internal/fixmath"
)

// EventKind discriminates scenario events.
type EventKind string

const (
	EventKindOrder   EventKind = "order"
	EventKindCancel  EventKind = "cancel"
	EventKindPrice   EventKind = "price"
	EventKindFunding EventKind = "funding"
)

// Account is one seeded account.
type Account struct {
	UserID     uuid.UUID
	Collateral int64 // Fixed-point: quote scale
}

// Event is one parsed scenario event with amounts already converted to
// fixed-point integers. Only the fields for its Kind are set.
type Event struct {
	Kind      EventKind
	Timestamp int64 // Epoch micros

	// order
	UserID   uuid.UUID
	Side     event.Side
	Quantity int64
	Price    int64
	Leverage int64

	// cancel
	OrderID int64

	// price / funding
	MarkPrice  int64
	IndexPrice int64
}

// Scenario is a fully parsed and validated scenario document.
type Scenario struct {
	Market   string
	Accounts []Account
	Events   []Event
}

// --- JSON wire format ---
// Decimal quantities are strings ("59500.25") so scenario authors never
// deal in raw fixed-point integers.

type scenarioJSON struct {
	Market   string         `json:"market"`
	Accounts []accountJSON  `json:"accounts"`
	Events   []rawEventJSON `json:"events"`
}

type accountJSON struct {
	UserID     string `json:"user_id"`
	Collateral string `json:"collateral"`
}

type rawEventJSON struct {
	Type        string `json:"type"`
	TimestampUs int64  `json:"timestamp_us"`

	UserID   string `json:"user_id,omitempty"`
	Side     string `json:"side,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	Price    string `json:"price,omitempty"`
	Leverage int64  `json:"leverage,omitempty"`

	OrderID int64 `json:"order_id,omitempty"`

	MarkPrice  string `json:"mark_price,omitempty"`
	IndexPrice string `json:"index_price,omitempty"`
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document. Events must
// be in non-decreasing timestamp order; account ids must be unique.
func ParseScenario(data []byte) (*Scenario, error) {
	var doc scenarioJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if doc.Market == "" {
		return nil, fmt.Errorf("scenario missing market")
	}
	if len(doc.Accounts) == 0 {
		return nil, fmt.Errorf("scenario has no accounts")
	}

	s := &Scenario{Market: doc.Market}

	seen := make(map[uuid.UUID]bool, len(doc.Accounts))
	for i, a := range doc.Accounts {
		userID, err := uuid.Parse(a.UserID)
		if err != nil {
			return nil, fmt.Errorf("account %d: parse user_id: %w", i, err)
		}
		if seen[userID] {
			return nil, fmt.Errorf("account %d: duplicate user_id %s", i, userID)
		}
		seen[userID] = true

		collateral, err := fixmath.ParseDecimal(a.Collateral, fixmath.QuoteConfig)
		if err != nil {
			return nil, fmt.Errorf("account %d: parse collateral: %w", i, err)
		}
		s.Accounts = append(s.Accounts, Account{UserID: userID, Collateral: collateral})
	}

	var lastTs int64
	for i, raw := range doc.Events {
		evt, err := parseEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if i > 0 && evt.Timestamp < lastTs {
			return nil, fmt.Errorf("event %d: timestamp %d precedes %d", i, evt.Timestamp, lastTs)
		}
		lastTs = evt.Timestamp
		s.Events = append(s.Events, evt)
	}

	return s, nil
}

func parseEvent(raw rawEventJSON) (Event, error) {
	evt := Event{Timestamp: raw.TimestampUs}

	switch EventKind(raw.Type) {
	case EventKindOrder:
		evt.Kind = EventKindOrder

		userID, err := uuid.Parse(raw.UserID)
		if err != nil {
			return evt, fmt.Errorf("parse user_id: %w", err)
		}
		evt.UserID = userID

		side, err := event.ParseSide(raw.Side)
		if err != nil {
			return evt, err
		}
		evt.Side = side

		if evt.Quantity, err = fixmath.ParseDecimal(raw.Quantity, fixmath.QuantityConfig); err != nil {
			return evt, fmt.Errorf("parse quantity: %w", err)
		}
		if evt.Price, err = fixmath.ParseDecimal(raw.Price, fixmath.PriceConfig); err != nil {
			return evt, fmt.Errorf("parse price: %w", err)
		}
		evt.Leverage = raw.Leverage

	case EventKindCancel:
		evt.Kind = EventKindCancel
		if raw.OrderID <= 0 {
			return evt, fmt.Errorf("cancel requires a positive order_id")
		}
		evt.OrderID = raw.OrderID

	case EventKindPrice:
		evt.Kind = EventKindPrice
		var err error
		if evt.MarkPrice, err = fixmath.ParseDecimal(raw.MarkPrice, fixmath.PriceConfig); err != nil {
			return evt, fmt.Errorf("parse mark_price: %w", err)
		}

	case EventKindFunding:
		evt.Kind = EventKindFunding
		var err error
		if evt.MarkPrice, err = fixmath.ParseDecimal(raw.MarkPrice, fixmath.PriceConfig); err != nil {
			return evt, fmt.Errorf("parse mark_price: %w", err)
		}
		if evt.IndexPrice, err = fixmath.ParseDecimal(raw.IndexPrice, fixmath.PriceConfig); err != nil {
			return evt, fmt.Errorf("parse index_price: %w", err)
		}

	default:
		return evt, fmt.Errorf("unknown event type: %q", raw.Type)
	}

	return evt, nil
}
