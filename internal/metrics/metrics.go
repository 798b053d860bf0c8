// Package metrics exposes Prometheus collectors for browser instances and
// their session channels.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "periscope"

// Command outcomes used as the "outcome" label.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeClosed  = "closed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	instancesActive  prometheus.Gauge
	instancesStarted *prometheus.CounterVec
	startDuration    prometheus.Histogram
	teardownFailures prometheus.Counter
	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	eventsDropped    prometheus.Counter
	anomalies        prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps repeated construction in tests from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		instancesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_active",
			Help:      "Number of browser instances currently running.",
		}),
		instancesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_starts_total",
			Help:      "Browser instance start attempts by result.",
		}, []string{"result"}),
		startDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_start_seconds",
			Help:      "Time from launch until the session target was reachable.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		teardownFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_step_failures_total",
			Help:      "Teardown steps that failed while stopping an instance.",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Protocol commands by domain and outcome.",
		}, []string{"domain", "outcome"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_seconds",
			Help:      "Protocol command round-trip latency by domain.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber queue was full.",
		}),
		anomalies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_anomalies_total",
			Help:      "Inbound messages that were malformed or matched no pending command.",
		}),
	}
}

// InstanceStarted records a successful start and its latency.
func (m *Metrics) InstanceStarted(d time.Duration) {
	if m == nil {
		return
	}
	m.instancesActive.Inc()
	m.instancesStarted.WithLabelValues("ok").Inc()
	m.startDuration.Observe(d.Seconds())
}

// InstanceStartFailed records a start that was rolled back.
func (m *Metrics) InstanceStartFailed() {
	if m == nil {
		return
	}
	m.instancesStarted.WithLabelValues("failed").Inc()
}

// InstanceStopped records that a previously started instance was torn down.
func (m *Metrics) InstanceStopped() {
	if m == nil {
		return
	}
	m.instancesActive.Dec()
}

// TeardownFailed records one failed teardown step.
func (m *Metrics) TeardownFailed() {
	if m == nil {
		return
	}
	m.teardownFailures.Inc()
}

// CommandCompleted records one command round trip.
func (m *Metrics) CommandCompleted(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	domain := Domain(method)
	m.commands.WithLabelValues(domain, outcome).Inc()
	m.commandDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// EventDropped records one event discarded from a full subscriber queue.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// ProtocolAnomaly records one unmatched or malformed inbound message.
func (m *Metrics) ProtocolAnomaly() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}

// Domain returns the part of a method name before the first dot.
func Domain(method string) string {
	domain, _, _ := strings.Cut(method, ".")
	if domain == "" {
		return "unknown"
	}
	return domain
}
