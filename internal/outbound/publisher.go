// Package outbound publishes applied events to NATS JetStream for
// downstream consumers. Publishing is best-effort: the core has
// already persisted its own audit trail, so a failed publish is logged
// and skipped.
package outbound

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpSim/internal/core"
	"PerpSim/internal/event"
	"PerpSim/internal/observability"
)

// Envelope is the JSON wire format for one applied event.
type Envelope struct {
	Sequence     int64                    `json:"sequence"`
	Kind         string                   `json:"kind"`
	StateHash    string                   `json:"state_hash"`
	TimestampUs  int64                    `json:"timestamp_us"`
	Fills        []event.Fill             `json:"fills,omitempty"`
	Funding      *event.FundingEvent      `json:"funding,omitempty"`
	Liquidations []event.LiquidationEvent `json:"liquidations,omitempty"`
}

// Publisher drains the core's output channel and publishes envelopes
// to perpsim.events.{kind}.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan core.Output
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan core.Output, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		metrics: metrics,
		log:     observability.NewLogger("outbound"),
	}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				p.log.Warn().Err(err).Int64("sequence", out.Sequence).Msg("publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out core.Output) error {
	env := Envelope{
		Sequence:     out.Sequence,
		Kind:         string(out.Kind),
		StateHash:    hex.EncodeToString(out.StateHash[:]),
		TimestampUs:  out.Timestamp,
		Fills:        out.Fills,
		Funding:      out.Funding,
		Liquidations: out.Liquidations,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("perpsim.events.%s", out.Kind)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.EventsPublished.Inc()
	}
	return nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERPSIM_EVENTS",
		Subjects:  []string{"perpsim.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
