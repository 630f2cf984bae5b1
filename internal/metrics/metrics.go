// Package metrics is the command-local Prometheus registry behind
// `mc metrics`: a one-shot text-exposition-format snapshot, not a scrape
// target (a CLI invocation has no long-lived process to scrape).
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// CircuitState mirrors internal/resilience's breaker states as a gauge
// value, since Prometheus gauges carry numbers, not strings.
type CircuitState float64

const (
	CircuitClosed   CircuitState = 0
	CircuitOpen     CircuitState = 1
	CircuitHalfOpen CircuitState = 2
)

// Registry is a private (non-default) Prometheus registry so that
// repeated New() calls in tests never collide on global collector
// registration.
type Registry struct {
	reg *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	rateLimitDenied *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
}

// New constructs a Registry with all of MasterClaw's collectors
// registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masterclaw",
			Name:      "commands_total",
			Help:      "Total command invocations by command path and exit status.",
		}, []string{"command", "status"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "masterclaw",
			Name:      "command_duration_seconds",
			Help:      "Command handler latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"command"}),
		rateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masterclaw",
			Name:      "rate_limit_denials_total",
			Help:      "Total admission denials by rate-limit category.",
		}, []string{"category"}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "masterclaw",
			Name:      "circuit_state",
			Help:      "Circuit breaker state by target (0=closed, 1=open, 2=half-open).",
		}, []string{"target"}),
	}
}

// RecordCommand records one command invocation's terminal status and
// handler latency.
func (r *Registry) RecordCommand(command, status string, durationSeconds float64) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(command, status).Inc()
	r.commandDuration.WithLabelValues(command).Observe(durationSeconds)
}

// RecordRateLimitDenial records one admission denial for category.
func (r *Registry) RecordRateLimitDenial(category string) {
	if r == nil {
		return
	}
	r.rateLimitDenied.WithLabelValues(category).Inc()
}

// SetCircuitState publishes target's current breaker state.
func (r *Registry) SetCircuitState(target string, state CircuitState) {
	if r == nil {
		return
	}
	r.circuitState.WithLabelValues(target).Set(float64(state))
}

// Snapshot renders every registered collector in Prometheus text
// exposition format, the shape `mc metrics` writes to stdout.
func (r *Registry) Snapshot() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
