package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

// Metrics implements engine.Events on a dedicated Prometheus registry. The
// hooks are counter and histogram updates only; they never block and never
// influence an outcome.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	stageEntries *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetrics creates the pipeline metric set on its own registry so the
// admin listener serves only gatehouse series plus the standard process and
// Go collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "requests_total",
			Help:      "Requests processed by the pipeline, by chain and outcome.",
		}, []string{"chain", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "firewall_rejections_total",
			Help:      "Requests rejected by the firewall, by reason.",
		}, []string{"reason"}),
		stageEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "stage_entries_total",
			Help:      "Stage invocations, by chain and stage.",
		}, []string{"chain", "stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatehouse",
			Name:      "request_duration_seconds",
			Help:      "Pipeline processing time from firewall to outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "outcome"}),
	}
	reg.MustRegister(m.requests, m.rejections, m.stageEntries, m.duration)
	return m
}

// ObserveActiveSessions registers a gauge sampling fn on every scrape.
// Typically fn reads the session registry's live-session count.
func (m *Metrics) ObserveActiveSessions(fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gatehouse",
		Name:      "active_sessions",
		Help:      "Live sessions tracked by the concurrency registry.",
	}, fn))
}

// Handler returns the scrape endpoint for the admin listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestRejected implements engine.Events.
func (m *Metrics) RequestRejected(_ *domain.Request, reason domain.RejectionReason) {
	m.rejections.WithLabelValues(string(reason)).Inc()
}

// ChainSelected implements engine.Events.
func (m *Metrics) ChainSelected(_ *domain.Request, _ string, _ bool) {}

// StageEntered implements engine.Events.
func (m *Metrics) StageEntered(_ *domain.Request, chain, stage string) {
	m.stageEntries.WithLabelValues(chain, stage).Inc()
}

// Outcome implements engine.Events.
func (m *Metrics) Outcome(_ *domain.Request, chain string, outcome domain.Outcome, elapsed time.Duration) {
	kind := string(outcome.Kind)
	m.requests.WithLabelValues(chain, kind).Inc()
	m.duration.WithLabelValues(chain, kind).Observe(elapsed.Seconds())
}
