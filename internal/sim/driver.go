package sim

import (
	"errors"
	"fmt"

	"PerpSim/internal/core"
	"PerpSim/internal/funding"
	"PerpSim/internal/match"
	"PerpSim/internal/observability"
	"PerpSim/internal/state"
)

// BuildCore constructs an exchange core seeded from a scenario's
// accounts, with default risk parameters for its market.
func BuildCore(s *Scenario, outputs chan<- core.Output, metrics *observability.Metrics) (*core.ExchangeCore, error) {
	seeds := make([]core.AccountSeed, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		seeds = append(seeds, core.AccountSeed{UserID: a.UserID, Collateral: a.Collateral})
	}
	return core.NewExchangeCore(state.DefaultRiskParams(s.Market), seeds, outputs, metrics)
}

// RunStats summarizes a driver run.
type RunStats struct {
	Applied int
	Skipped int
}

// Driver replays scenario events against the core in time order.
// Rejected events (invalid orders, unknown users, duplicate funding)
// are logged and skipped; the run continues. Anything else is a bug in
// the scenario or the core and stops the run.
type Driver struct {
	core *core.ExchangeCore
	log  func(evt Event, err error)
}

func NewDriver(c *core.ExchangeCore) *Driver {
	logger := observability.NewLogger("driver")
	return &Driver{
		core: c,
		log: func(evt Event, err error) {
			logger.Warn().
				Str("kind", string(evt.Kind)).
				Int64("timestamp", evt.Timestamp).
				Err(err).
				Msg("event skipped")
		},
	}
}

// Run replays all events and returns applied/skipped counts.
func (d *Driver) Run(events []Event) (RunStats, error) {
	var stats RunStats

	for i, evt := range events {
		err := d.apply(evt)
		if err == nil {
			stats.Applied++
			continue
		}
		if recoverable(err) {
			stats.Skipped++
			d.log(evt, err)
			continue
		}
		return stats, fmt.Errorf("event %d (%s at %d): %w", i, evt.Kind, evt.Timestamp, err)
	}

	return stats, nil
}

func (d *Driver) apply(evt Event) error {
	switch evt.Kind {
	case EventKindOrder:
		_, _, err := d.core.PlaceOrder(evt.UserID, evt.Side, evt.Quantity, evt.Price, evt.Leverage, evt.Timestamp)
		return err
	case EventKindCancel:
		d.core.CancelOrder(evt.OrderID, evt.Timestamp)
		return nil
	case EventKindPrice:
		_, err := d.core.UpdatePrice(evt.MarkPrice, evt.Timestamp)
		return err
	case EventKindFunding:
		_, err := d.core.ApplyFunding(evt.MarkPrice, evt.IndexPrice, evt.Timestamp)
		return err
	default:
		return fmt.Errorf("unknown event kind %q", evt.Kind)
	}
}

// recoverable reports whether an event failure should skip the event
// rather than abort the run.
func recoverable(err error) bool {
	var invalid *match.InvalidOrderError
	var unknown *core.UnknownUserError
	var dupFunding *funding.ErrDuplicateApplication
	return errors.As(err, &invalid) || errors.As(err, &unknown) || errors.As(err, &dupFunding)
}
