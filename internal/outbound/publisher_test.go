package outbound

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"PerpSim/internal/core"
	"PerpSim/internal/observability"
	"PerpSim/internal/testutil"
)

func TestEnvelopeWireFormat(t *testing.T) {
	out := core.Output{
		Sequence:  3,
		Kind:      core.OutputKindPrice,
		Timestamp: 1000,
	}
	out.StateHash[0] = 0xAB

	env := Envelope{
		Sequence:    out.Sequence,
		Kind:        string(out.Kind),
		StateHash:   "ab00",
		TimestampUs: out.Timestamp,
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "price" || decoded["sequence"] != float64(3) {
		t.Errorf("decoded = %v", decoded)
	}
	if _, present := decoded["fills"]; present {
		t.Error("empty fills must be omitted")
	}
}

func TestPublisherRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, err := nats.Connect(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := EnsureStream(ctx, js); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}

	input := make(chan core.Output, 1)
	pub := NewPublisher(js, input, observability.NewMetrics(prometheus.NewRegistry()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Run(ctx)
	}()

	input <- core.Output{Sequence: 1, Kind: core.OutputKindOrder, Timestamp: 100}
	close(input)
	<-done

	consumer, err := js.CreateOrUpdateConsumer(ctx, "PERPSIM_EVENTS", jetstream.ConsumerConfig{
		FilterSubject: "perpsim.events.order",
	})
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for msg := range msgs.Messages() {
		var env Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Sequence != 1 || env.Kind != "order" {
			t.Errorf("envelope = %+v", env)
		}
		msg.Ack()
		return
	}
	t.Fatal("no message received")
}
