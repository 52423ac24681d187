package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the inbound tooling collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	APIRequestsTotal     *prometheus.CounterVec
	APIRequestDuration   *prometheus.HistogramVec
	OperationPolls       *prometheus.CounterVec
	PlanCreateAttempts   *prometheus.CounterVec
	PrepOwnerCorrections prometheus.Counter
	PlacementConfirms    *prometheus.CounterVec
	ReconciledRows       *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors in a private registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fba_inbound"
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "SP-API requests by method and status code",
		}, []string{"method", "status"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "SP-API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		OperationPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_polls_total",
			Help:      "Operation status polls by label and observed result",
		}, []string{"label", "result"}),
		PlanCreateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_create_attempts_total",
			Help:      "Inbound plan creation attempts by result",
		}, []string{"result"}),
		PrepOwnerCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prep_owner_corrections_total",
			Help:      "Create retries caused by prepOwner mismatches",
		}),
		PlacementConfirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placement_confirmations_total",
			Help:      "Placement option confirmations by result",
		}, []string{"result"}),
		ReconciledRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_rows_total",
			Help:      "Status estimate rows by outcome",
		}, []string{"outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	registry.MustRegister(
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.OperationPolls,
		m.PlanCreateAttempts,
		m.PrepOwnerCorrections,
		m.PlacementConfirms,
		m.ReconciledRows,
		m.CircuitBreakerState,
	)
	return m
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one API round trip. status 0 means a transport error.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.APIRequestsTotal.WithLabelValues(method, code).Inc()
	m.APIRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObservePoll(label, result string) {
	if m == nil {
		return
	}
	m.OperationPolls.WithLabelValues(label, result).Inc()
}

func (m *Metrics) ObserveCreateAttempt(result string) {
	if m == nil {
		return
	}
	m.PlanCreateAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePrepOwnerCorrection() {
	if m == nil {
		return
	}
	m.PrepOwnerCorrections.Inc()
}

func (m *Metrics) ObserveConfirm(result string) {
	if m == nil {
		return
	}
	m.PlacementConfirms.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReconciledRow(outcome string) {
	if m == nil {
		return
	}
	m.ReconciledRows.WithLabelValues(outcome).Inc()
}

// SetBreakerState records a gobreaker state as its numeric value
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
