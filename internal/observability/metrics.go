package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the simulator exposes, grouped by
// the component that emits it. It implements kernel.Metrics so the kernel
// can report without importing this package.
type Metrics struct {
	// --- Tick controller ---
	TicksAdvanced     prometheus.Counter
	CurrentTick       prometheus.Gauge
	ActionsAccepted   prometheus.Counter
	ActionsRejected   *prometheus.CounterVec
	TradesExecuted    prometheus.Counter
	DecaySweeps       prometheus.Counter
	BankruptcySweeps  prometheus.Counter

	// --- Event store ---
	EventsAppended     prometheus.Counter
	ChainVerifications *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyHits prometheus.Counter
	IdempotencySize prometheus.Gauge

	// --- Matching engine ---
	BookDepthBid prometheus.Gauge
	BookDepthAsk prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistBatchDur      prometheus.Histogram
	SnapshotTaken        prometheus.Counter
	SnapshotDuration     prometheus.Histogram

	// --- Event export (NATS) ---
	PublishSuccess prometheus.Counter
	PublishErrors  prometheus.Counter

	// --- Query/server API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric against the default
// registerer via promauto.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		TicksAdvanced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_ticks_advanced_total",
			Help: "Ticks advanced by the kernel",
		}),
		CurrentTick: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_current_tick",
			Help: "Current tick id",
		}),
		ActionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_actions_accepted_total",
			Help: "Actions accepted into the pending queue",
		}),
		ActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_actions_rejected_total",
			Help: "Actions rejected, by reason code",
		}, []string{"reason_code"}),
		TradesExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_trades_executed_total",
			Help: "Trades matched by the continuous double auction",
		}),
		DecaySweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_decay_sweeps_total",
			Help: "Ticks in which the decay sweep ran",
		}),
		BankruptcySweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_bankruptcy_sweeps_total",
			Help: "Ticks in which at least one agent was marked bankrupt",
		}),

		EventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_events_appended_total",
			Help: "Events appended to the hash-chained event store",
		}),
		ChainVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_chain_verifications_total",
			Help: "verify_chain calls, by outcome",
		}, []string{"valid"}),

		IdempotencyHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_idempotency_hits_total",
			Help: "submit_actions calls served from the idempotency cache",
		}),
		IdempotencySize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_idempotency_cache_size",
			Help: "Current idempotency cache entry count",
		}),

		BookDepthBid: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_book_depth_bid",
			Help: "Aggregated open quantity on the bid side",
		}),
		BookDepthAsk: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_book_depth_ask",
			Help: "Aggregated open quantity on the ask side",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_persist_events_written_total",
			Help: "Events written to the durable event log",
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_persist_errors_total",
			Help: "Persistence write errors, by stage",
		}, []string{"stage"}),
		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_persist_batch_duration_seconds",
			Help:    "Time to write one batch of events",
			Buckets: latencyBuckets,
		}),
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_snapshots_taken_total",
			Help: "World snapshots written",
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_snapshot_duration_seconds",
			Help:    "Time to serialize and write one snapshot",
			Buckets: latencyBuckets,
		}),

		PublishSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_publish_success_total",
			Help: "Events successfully published to the export stream",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_publish_errors_total",
			Help: "Event export publish failures",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_query_requests_total",
			Help: "Read-side query requests, by endpoint",
		}, []string{"endpoint"}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsim_query_duration_seconds",
			Help:    "Read-side query latency, by endpoint",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),
	}
}

// ObserveTickAdvanced implements kernel.Metrics.
func (m *Metrics) ObserveTickAdvanced() {
	m.TicksAdvanced.Inc()
	m.CurrentTick.Inc()
}

// ObserveActionAccepted implements kernel.Metrics.
func (m *Metrics) ObserveActionAccepted() { m.ActionsAccepted.Inc() }

// ObserveActionRejected implements kernel.Metrics.
func (m *Metrics) ObserveActionRejected(reasonCode string) {
	m.ActionsRejected.WithLabelValues(reasonCode).Inc()
}

// ObserveTradeExecuted implements kernel.Metrics.
func (m *Metrics) ObserveTradeExecuted() { m.TradesExecuted.Inc() }

// ObserveEventAppended implements kernel.Metrics.
func (m *Metrics) ObserveEventAppended() { m.EventsAppended.Inc() }

// ObserveChainVerification implements kernel.Metrics.
func (m *Metrics) ObserveChainVerification(valid bool) {
	label := "true"
	if !valid {
		label = "false"
	}
	m.ChainVerifications.WithLabelValues(label).Inc()
}

// ObserveIdempotencyHit implements kernel.Metrics.
func (m *Metrics) ObserveIdempotencyHit() { m.IdempotencyHits.Inc() }

// ObserveDecaySweep implements kernel.Metrics.
func (m *Metrics) ObserveDecaySweep() { m.DecaySweeps.Inc() }

// ObserveBankruptcySweep implements kernel.Metrics.
func (m *Metrics) ObserveBankruptcySweep() { m.BankruptcySweeps.Inc() }

// ObserveIdempotencySize implements kernel.Metrics.
func (m *Metrics) ObserveIdempotencySize(n int) { m.IdempotencySize.Set(float64(n)) }

// ObserveBookDepth records the current aggregated open quantity on each
// side of the book, sampled at query time by internal/server's book
// handler.
func (m *Metrics) ObserveBookDepth(bidQty, askQty float64) {
	m.BookDepthBid.Set(bidQty)
	m.BookDepthAsk.Set(askQty)
}

// ObserveQuery records one read-side request against the given endpoint
// label, sampled by internal/server's handler wrapper.
func (m *Metrics) ObserveQuery(endpoint string, d time.Duration) {
	m.QueryRequests.WithLabelValues(endpoint).Inc()
	m.QueryDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}
