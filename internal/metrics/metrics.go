// Package metrics exposes the orchestrator's Prometheus
// instrumentation. A nil *Metrics disables collection, so tests and
// library callers do not need a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agrosense/agrosense/breaker"
)

// Metrics bundles the orchestrator collectors.
type Metrics struct {
	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram
	toolDuration  *prometheus.HistogramVec
	toolOutcomes  *prometheus.CounterVec
	toolSkips     *prometheus.CounterVec
	toolInflight  prometheus.Gauge
	breakerState  *prometheus.GaugeVec
}

// New registers the orchestrator collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrosense",
			Name:      "queries_total",
			Help:      "Queries processed, by terminal outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agrosense",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrosense",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration, by tool and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"tool", "outcome"}),
		toolOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrosense",
			Name:      "tool_calls_total",
			Help:      "Tool calls, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrosense",
			Name:      "tool_calls_skipped_total",
			Help:      "Tool calls skipped because the circuit was open.",
		}, []string{"tool"}),
		toolInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agrosense",
			Name:      "tool_calls_inflight",
			Help:      "Tool calls currently in flight.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agrosense",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open).",
		}, []string{"dependency"}),
	}
	reg.MustRegister(m.queriesTotal, m.queryDuration, m.toolDuration,
		m.toolOutcomes, m.toolSkips, m.toolInflight, m.breakerState)
	return m
}

// QueryFinished records one terminal query outcome.
func (m *Metrics) QueryFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(d.Seconds())
}

// ToolStarted marks a tool call in flight.
func (m *Metrics) ToolStarted(tool string) {
	if m == nil {
		return
	}
	m.toolInflight.Inc()
}

// ToolFinished unmarks a tool call.
func (m *Metrics) ToolFinished(tool string) {
	if m == nil {
		return
	}
	m.toolInflight.Dec()
}

// ToolCompleted records one finished tool call.
func (m *Metrics) ToolCompleted(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolOutcomes.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool, outcome).Observe(d.Seconds())
}

// ToolSkipped records a call rejected by an open circuit.
func (m *Metrics) ToolSkipped(tool string) {
	if m == nil {
		return
	}
	m.toolSkips.WithLabelValues(tool).Inc()
}

// BreakerChanged is wired as the breaker registry's event handler.
func (m *Metrics) BreakerChanged(ev breaker.Event) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(ev.Dependency).Set(float64(ev.NewState))
}
