package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the engines.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	transfers         *prometheus.CounterVec
	idempotentReplays *prometheus.CounterVec
	lockRetries       prometheus.Counter
	obligations       *prometheus.CounterVec
	integrityFaults   *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	operationDuration *prometheus.HistogramVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// metrics in it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_transfers_total",
				Help: "Transfers executed, by ledger status.",
			},
			[]string{"status"},
		),
		idempotentReplays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_idempotent_replays_total",
				Help: "Requests answered from the idempotency cache.",
			},
			[]string{"operation"},
		),
		lockRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "funds_account_lock_retries_total",
				Help: "Account lock timeouts that were retried.",
			},
		),
		obligations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_obligations_processed_total",
				Help: "Obligation due dates evaluated, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		integrityFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_integrity_faults_total",
				Help: "Obligations skipped because of a data integrity fault.",
			},
			[]string{"kind"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funds_events_total",
				Help: "Domain events handed to the sink, by result.",
			},
			[]string{"type", "result"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "funds_daily_cycle_duration_seconds",
				Help:    "Duration of the daily obligation cycle.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "funds_operation_duration_seconds",
				Help:    "Duration of engine operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// IncrTransfer counts an executed transfer.
func (m *Metrics) IncrTransfer(status string) {
	m.transfers.WithLabelValues(status).Inc()
}

// IncrReplay counts a cached idempotent answer.
func (m *Metrics) IncrReplay(operation string) {
	m.idempotentReplays.WithLabelValues(operation).Inc()
}

// IncrLockRetry counts a retried account lock timeout.
func (m *Metrics) IncrLockRetry() {
	m.lockRetries.Inc()
}

// IncrObligation counts an evaluated obligation.
func (m *Metrics) IncrObligation(kind, outcome string) {
	m.obligations.WithLabelValues(kind, outcome).Inc()
}

// IncrIntegrityFault counts an obligation skipped for integrity reasons.
func (m *Metrics) IncrIntegrityFault(kind string) {
	m.integrityFaults.WithLabelValues(kind).Inc()
}

// IncrEvent counts an event delivery attempt.
func (m *Metrics) IncrEvent(eventType, result string) {
	m.eventsPublished.WithLabelValues(eventType, result).Inc()
}

// RecordCycleDuration records how long the daily cycle took.
func (m *Metrics) RecordCycleDuration(d time.Duration) {
	m.cycleDuration.Observe(d.Seconds())
}

// RecordOperationDuration records the duration of an engine operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}
