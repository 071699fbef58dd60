// Package metrics holds the Prometheus collectors recorded by dispatch and the
// pipeline. Every invocation is short-lived, so the registry is exported to a
// node-exporter textfile instead of being scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeDryRun    = "dry_run"
)

// Metrics is a per-process collector set. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	dispatchItems *prometheus.CounterVec
	phaseRuns     *prometheus.CounterVec
	gateScores    *prometheus.HistogramVec
	launchSeconds prometheus.Histogram
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heartbeat",
			Name:      "dispatch_items_total",
			Help:      "Work items handled by dispatch, by outcome.",
		}, []string{"outcome"}),
		phaseRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heartbeat",
			Name:      "pipeline_phases_total",
			Help:      "Pipeline phase runs, by phase and outcome.",
		}, []string{"phase", "outcome"}),
		gateScores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heartbeat",
			Name:      "pipeline_gate_score",
			Help:      "Quality gate scores on the 0-100 scale.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}, []string{"phase"}),
		launchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "heartbeat",
			Name:      "agent_launch_seconds",
			Help:      "Wall time of agent launches.",
			Buckets:   []float64{30, 60, 300, 600, 1200, 1800, 3600},
		}),
	}
	m.registry.MustRegister(m.dispatchItems, m.phaseRuns, m.gateScores, m.launchSeconds)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DispatchItem counts one dispatch outcome.
func (m *Metrics) DispatchItem(outcome string) {
	if m == nil {
		return
	}
	m.dispatchItems.WithLabelValues(outcome).Inc()
}

// PhaseRun counts one pipeline phase result.
func (m *Metrics) PhaseRun(phase string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeCompleted
	if !ok {
		outcome = OutcomeFailed
	}
	m.phaseRuns.WithLabelValues(phase, outcome).Inc()
}

// GateScore observes a normalized gate score.
func (m *Metrics) GateScore(phase string, score float64) {
	if m == nil {
		return
	}
	m.gateScores.WithLabelValues(phase).Observe(score)
}

// AgentLaunch observes the duration of one agent launch.
func (m *Metrics) AgentLaunch(d time.Duration) {
	if m == nil {
		return
	}
	m.launchSeconds.Observe(d.Seconds())
}

// WriteTextfile writes the registry in text exposition format. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
