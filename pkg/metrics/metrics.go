// Package metrics registers the Prometheus instruments for the scan and
// weekly pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline instruments. One instance per process.
type Metrics struct {
	ScanRuns     *prometheus.CounterVec
	ScanDuration prometheus.Histogram
	StepErrors   *prometheus.CounterVec
	PagesFlagged prometheus.Gauge
	Findings     *prometheus.CounterVec
	ToolCalls    *prometheus.CounterVec
	SignalsSent  *prometheus.CounterVec
}

// New registers the instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScanRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thyme_scan_runs_total",
			Help: "Completed scan runs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "thyme_scan_duration_seconds",
			Help:    "Wall-clock duration of scan runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		}),
		StepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thyme_step_errors_total",
			Help: "Recoverable per-step errors recorded during runs.",
		}, []string{"step"}),
		PagesFlagged: factory.NewGauge(prometheus.GaugeOpts{
			Name: "thyme_pages_flagged",
			Help: "Pages below the health flag threshold after the last scan.",
		}),
		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thyme_findings_total",
			Help: "Findings recorded by terminal outcome.",
		}, []string{"outcome"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thyme_agent_tool_calls_total",
			Help: "Agent tool invocations by tool name.",
		}, []string{"tool"}),
		SignalsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thyme_signals_emitted_total",
			Help: "Signals emitted to the shared bus by event type.",
		}, []string{"event_type"}),
	}
}
