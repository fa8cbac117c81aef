package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ingestion engine's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stageOutcomes  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	toolRuns       *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	runOutcomes    *prometheus.CounterVec
	ledgerFailures prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage completions by step and status.",
		}, []string{"step", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"step"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "tool_runs_total",
			Help:      "Provider calls by tool, status and error class.",
		}, []string{"tool", "status", "class"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "tool_run_duration_seconds",
			Help:      "Provider call wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"tool"}),
		runOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion runs by terminal status.",
		}, []string{"status"}),
		ledgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "ledger_write_failures_total",
			Help:      "Provenance ledger writes that failed and were dropped.",
		}),
	}
	m.registry.MustRegister(
		m.stageOutcomes, m.stageDuration,
		m.toolRuns, m.toolDuration,
		m.runOutcomes, m.ledgerFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// StageFinished records one stage completion
func (m *Metrics) StageFinished(step, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(step, status).Inc()
	m.stageDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

// ToolRunFinished records one provider call
func (m *Metrics) ToolRunFinished(tool, status, class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolRuns.WithLabelValues(tool, status, class).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RunFinished records a run's terminal status
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runOutcomes.WithLabelValues(status).Inc()
}

// LedgerWriteFailed counts a dropped provenance write
func (m *Metrics) LedgerWriteFailed() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
