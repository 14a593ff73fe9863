package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waybill"

// Metrics holds the pipeline collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasks       *prometheus.CounterVec
	passes      *prometheus.CounterVec
	escalations prometheus.Counter
	passLatency *prometheus.HistogramVec
	deliveries  *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Queue tasks processed, by outcome.",
		}, []string{"outcome"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_passes_total",
			Help:      "Vision model calls, by pass and result.",
		}, []string{"pass", "result"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_escalations_total",
			Help:      "Extractions that needed a second pass.",
		}),
		passLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_pass_duration_seconds",
			Help:      "Vision model call latency.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"pass"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_deliveries_total",
			Help:      "CRM delivery attempts, by resulting status.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_transitions_total",
			Help:      "Document status transitions, by target status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasks, m.passes, m.escalations, m.passLatency, m.deliveries, m.transitions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TaskProcessed(outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePass(pass int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	p := strconv.Itoa(pass)
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.passes.WithLabelValues(p, result).Inc()
	m.passLatency.WithLabelValues(p).Observe(elapsed.Seconds())
}

func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) Delivery(status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}
