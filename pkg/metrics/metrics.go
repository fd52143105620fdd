// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is safe for concurrent use. A nil *Metrics is a valid no-op
// recorder so callers never need to check whether metrics are enabled.
type Metrics struct {
	registry           *prometheus.Registry
	events             *prometheus.CounterVec
	finalized          *prometheus.CounterVec
	sendFailures       *prometheus.CounterVec
	gatewayErrors      *prometheus.CounterVec
	contractViolations prometheus.Counter
}

// New registers the findbot collectors. activeSessions backs the
// findbot_active_sessions gauge and may be nil.
func New(activeSessions func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "findbot",
			Name:      "events_total",
			Help:      "Inbound events processed, by the session step they were applied to.",
		}, []string{"step"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "findbot",
			Name:      "finalized_total",
			Help:      "Finds published, by rating.",
		}, []string{"rating"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "findbot",
			Name:      "send_failures_total",
			Help:      "Outbound sends that failed, by kind (text or media).",
		}, []string{"kind"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "findbot",
			Name:      "gateway_errors_total",
			Help:      "Errors reported by gateways on the side channel.",
		}, []string{"channel"}),
		contractViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "findbot",
			Name:      "contract_violations_total",
			Help:      "Finalize attempts on incomplete sessions.",
		}),
	}

	reg.MustRegister(
		m.events,
		m.finalized,
		m.sendFailures,
		m.gatewayErrors,
		m.contractViolations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if activeSessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "findbot",
			Name:      "active_sessions",
			Help:      "Conversations with a form in progress.",
		}, func() float64 { return float64(activeSessions()) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveEvent(step string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(step).Inc()
}

func (m *Metrics) ObserveFinalized(rating string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(rating).Inc()
}

func (m *Metrics) ObserveSendFailure(kind string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveGatewayError(channel string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(channel).Inc()
}

func (m *Metrics) ObserveContractViolation() {
	if m == nil {
		return
	}
	m.contractViolations.Inc()
}
