package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the prompt gateway.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	RequestDurationMs   *prometheus.HistogramVec
	InferenceDurationMs *prometheus.HistogramVec
	FilterActionTotal   *prometheus.CounterVec
	StoreConnectTotal   *prometheus.CounterVec
	StoreState          prometheus.Gauge
	AuditFailureTotal   *prometheus.CounterVec
	RateLimitHitTotal   prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_request_total",
			Help: "Total number of requests answered by the gateway.",
		}, []string{"status", "category"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_ms",
			Help:    "Total request duration in milliseconds (including inference latency).",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"status"}),

		InferenceDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_inference_duration_ms",
			Help:    "Inference call duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider", "outcome"}),

		FilterActionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_filter_action_total",
			Help: "Total filter actions taken.",
		}, []string{"filter", "action"}),

		StoreConnectTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_store_connect_attempts_total",
			Help: "Backing store connection attempts by outcome.",
		}, []string{"outcome"}),

		StoreState: f.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_state",
			Help: "Backing store connection state (0 disconnected, 1 connecting, 2 connected, 3 fatal).",
		}),

		AuditFailureTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_audit_failure_total",
			Help: "Audit records that could not be queued, persisted or published.",
		}, []string{"stage"}),

		RateLimitHitTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limit_hit_total",
			Help: "Requests rejected by the per-client rate limit.",
		}),
	}
}

// RecordRequest records metrics for an answered request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	status := strconv.Itoa(labels.Status)
	m.RequestTotal.WithLabelValues(status, labels.Category).Inc()
	m.RequestDurationMs.WithLabelValues(status).Observe(labels.DurationMs)
}

// RecordError counts a dispatched error. Durations for errors are covered by
// the request completion log.
func (m *Metrics) RecordError(status int, category string) {
	m.RequestTotal.WithLabelValues(strconv.Itoa(status), category).Inc()
}

// RecordInference records the latency and outcome of one inference call.
func (m *Metrics) RecordInference(provider, outcome string, durationMs float64) {
	m.InferenceDurationMs.WithLabelValues(provider, outcome).Observe(durationMs)
}

// RecordFilterAction records a filter action metric.
func (m *Metrics) RecordFilterAction(filter, action string) {
	m.FilterActionTotal.WithLabelValues(filter, action).Inc()
}

func (m *Metrics) RecordStoreAttempt(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.StoreConnectTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetStoreState(state int) {
	m.StoreState.Set(float64(state))
}

func (m *Metrics) RecordAuditFailure(stage string) {
	m.AuditFailureTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordRateLimitHit() {
	m.RateLimitHitTotal.Inc()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Status     int
	Category   string
	DurationMs float64
}
