package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "delver"

// Metrics holds the Prometheus collectors for a monitoring run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Ticks        *prometheus.CounterVec
	TickErrors   *prometheus.CounterVec
	Events       *prometheus.CounterVec
	Outcomes     *prometheus.CounterVec
	Findings     *prometheus.CounterVec
	JoinDuration prometheus.Histogram
	Score        *prometheus.GaugeVec
}

// New registers all collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_ticks_total",
			Help:      "Total number of snapshot/diff ticks per surface",
		}, []string{"surface"}),
		TickErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_tick_errors_total",
			Help:      "Total number of ticks that failed and were skipped",
		}, []string{"surface"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_events_total",
			Help:      "Total number of raw events buffered, by surface and origin",
		}, []string{"surface", "origin"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_outcomes_total",
			Help:      "Collector outcomes at join time",
		}, []string{"surface", "status"}),
		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings produced by classification, by surface and risk level",
		}, []string{"surface", "risk"}),
		JoinDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "controller_join_seconds",
			Help:      "Time spent waiting for collectors to stop",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		Score: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Last computed risk score, by part (static, dynamic, total)",
		}, []string{"part"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncTick(surface string) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(surface).Inc()
}

func (m *Metrics) IncTickError(surface string) {
	if m == nil {
		return
	}
	m.TickErrors.WithLabelValues(surface).Inc()
}

func (m *Metrics) AddEvents(surface, origin string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Events.WithLabelValues(surface, origin).Add(float64(n))
}

func (m *Metrics) IncOutcome(surface, status string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(surface, status).Inc()
}

func (m *Metrics) IncFinding(surface, risk string) {
	if m == nil {
		return
	}
	m.Findings.WithLabelValues(surface, risk).Inc()
}

func (m *Metrics) ObserveJoin(d time.Duration) {
	if m == nil {
		return
	}
	m.JoinDuration.Observe(d.Seconds())
}

// SetScore records the static, dynamic and total scores of the last run.
func (m *Metrics) SetScore(static, dynamic, total int) {
	if m == nil {
		return
	}
	m.Score.WithLabelValues("static").Set(float64(static))
	m.Score.WithLabelValues("dynamic").Set(float64(dynamic))
	m.Score.WithLabelValues("total").Set(float64(total))
}
