// Package metrics provides Prometheus metrics for the coding engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	EncountersReceived    prometheus.Counter
	EncountersCoded       prometheus.Counter
	EncountersFailed      prometheus.Counter
	BundlesAssembled      prometheus.Counter
	ConditionsDetected    prometheus.Counter
	ProceduresDetected    prometheus.Counter
	CodingDuration        prometheus.Histogram
	ActiveJobs            prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		EncountersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encounters_received_total",
			Help: "Total encounter envelopes received",
		}),
		EncountersCoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encounters_coded_total",
			Help: "Total encounters successfully coded",
		}),
		EncountersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encounters_failed_total",
			Help: "Total encounters that failed coding",
		}),
		BundlesAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bundles_assembled_total",
			Help: "Total claim bundles assembled",
		}),
		ConditionsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conditions_detected_total",
			Help: "Total diagnosis codes detected across all encounters",
		}),
		ProceduresDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procedures_detected_total",
			Help: "Total performed procedures detected across all encounters",
		}),
		CodingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "encounter_coding_duration_seconds",
			Help:    "Detection plus assembly duration per encounter",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coding_jobs_active",
			Help: "Coding jobs currently in flight",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.EncountersReceived,
		m.EncountersCoded,
		m.EncountersFailed,
		m.BundlesAssembled,
		m.ConditionsDetected,
		m.ProceduresDetected,
		m.CodingDuration,
		m.ActiveJobs,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
