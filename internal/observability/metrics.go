package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the simulator. Tests
// pass a fresh registry to avoid duplicate registration.
type Metrics struct {
	// Matching
	OrdersPlaced   *prometheus.CounterVec
	OrdersRejected prometheus.Counter
	FillsTotal     prometheus.Counter
	RestingOrders  prometheus.Gauge

	// Risk
	Liquidations       prometheus.Counter
	NegativeCollateral prometheus.Counter
	FundingApplied     prometheus.Counter
	OpenPositions      prometheus.Gauge

	// Core
	EventDuration *prometheus.HistogramVec
	CoreSequence  prometheus.Gauge

	// Persistence
	PersistBatchDuration prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        prometheus.Counter
	PersistRetry         prometheus.Counter

	// Outbound publishing
	EventsPublished prometheus.Counter
	PublishDrops    prometheus.Counter

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers all instruments against reg. A nil registerer
// falls back to the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	coreBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Matching
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perpsim_orders_placed_total",
			Help: "Orders accepted by the matching engine, by outcome",
		}, []string{"outcome"}),

		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_orders_rejected_total",
			Help: "Orders rejected by validation",
		}),

		FillsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_fills_total",
			Help: "Fills produced by the matching engine",
		}),

		RestingOrders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perpsim_resting_orders",
			Help: "Orders currently resting on the book",
		}),

		// Risk
		Liquidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_liquidations_total",
			Help: "Positions force-closed by the liquidation sweep",
		}),

		NegativeCollateral: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_negative_collateral_total",
			Help: "Liquidations that left an account below zero",
		}),

		FundingApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_funding_applied_total",
			Help: "Funding settlements applied",
		}),

		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perpsim_open_positions",
			Help: "Open positions across all users",
		}),

		// Core
		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpsim_event_apply_duration_seconds",
			Help:    "Time to apply a single input event in core",
			Buckets: coreBuckets,
		}, []string{"event_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perpsim_core_sequence",
			Help: "Current global sequence number",
		}),

		// Persistence
		PersistBatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpsim_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpsim_persist_batch_size",
			Help:    "Rows per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_persist_errors_total",
			Help: "Persistence errors",
		}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Outbound publishing
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_events_published_total",
			Help: "Events published to the outbound stream",
		}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpsim_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perpsim_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpsim_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
