package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	gatewayDuration *prometheus.HistogramVec
	chargesCreated  *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	jobsProcessed   *prometheus.CounterVec
	stateChanges    *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pix_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pix_gateway_request_duration_seconds",
			Help:    "Latency of calls to the PIX provider.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "outcome"}),
		chargesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_charges_created_total",
			Help: "Charges created at the provider by order kind.",
		}, []string{"kind"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_webhook_events_total",
			Help: "Provider notifications by reported status and handling outcome.",
		}, []string{"status", "outcome"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_jobs_processed_total",
			Help: "Background jobs by type and outcome.",
		}, []string{"type", "outcome"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pix_charge_state_changes_total",
			Help: "Stored charge status transitions.",
		}, []string{"from", "to"}),
	}

	registerer.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.gatewayDuration,
		m.chargesCreated,
		m.webhookEvents,
		m.jobsProcessed,
		m.stateChanges,
	)
	return m
}

func (m *Metrics) ObserveHTTP(route, method, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, code).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveGateway(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ChargeCreated(kind string) {
	if m == nil {
		return
	}
	m.chargesCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) WebhookEvent(status, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) JobProcessed(jobType, outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

func (m *Metrics) StateChanged(from, to string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(from, to).Inc()
}
