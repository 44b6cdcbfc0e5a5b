// Package metrics exposes bench counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all bench collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	LinesIngested  *prometheus.CounterVec
	RecordsEvicted prometheus.Counter
	BufferSize     prometheus.Gauge
	AuditDropped   prometheus.Gauge
	AuditErrors    prometheus.Gauge

	ConnectionState       prometheus.Gauge
	ConnectionTransitions *prometheus.CounterVec
	Heartbeats            *prometheus.CounterVec

	PluginsLoaded prometheus.Gauge
	ScanFailures  prometheus.Counter
	Runs          *prometheus.CounterVec
	TestCases     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		LinesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certbench_log_lines_total",
			Help: "Total number of log lines ingested",
		}, []string{"source"}),
		RecordsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certbench_log_records_evicted_total",
			Help: "Total number of records evicted from the log buffer",
		}),
		BufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certbench_log_buffer_records",
			Help: "Number of records currently held in the log buffer",
		}),
		AuditDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certbench_audit_lines_dropped",
			Help: "Lines dropped by the audit file writer",
		}),
		AuditErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certbench_audit_write_errors",
			Help: "Write errors seen by the audit file writer",
		}),

		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certbench_connection_state",
			Help: "Device connection state (0 disconnected, 1 connecting, 2 ready)",
		}),
		ConnectionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certbench_connection_transitions_total",
			Help: "Total number of connection state transitions",
		}, []string{"to"}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certbench_heartbeats_total",
			Help: "Total number of heartbeat commands sent",
		}, []string{"result"}),

		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certbench_plugins_loaded",
			Help: "Number of plugins in the registry",
		}),
		ScanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certbench_plugin_scan_failures_total",
			Help: "Total number of archives that failed to load",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certbench_runs_total",
			Help: "Total number of test runs",
		}, []string{"result"}),
		TestCases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certbench_test_cases_total",
			Help: "Total number of executed test methods",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "certbench_run_duration_seconds",
			Help:    "Duration of test runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.LinesIngested,
		m.RecordsEvicted,
		m.BufferSize,
		m.AuditDropped,
		m.AuditErrors,
		m.ConnectionState,
		m.ConnectionTransitions,
		m.Heartbeats,
		m.PluginsLoaded,
		m.ScanFailures,
		m.Runs,
		m.TestCases,
		m.RunDuration,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LineIngested counts one line from source.
func (m *Metrics) LineIngested(source string) {
	if m == nil {
		return
	}
	m.LinesIngested.WithLabelValues(source).Inc()
}

// Evicted counts records pushed out of the log buffer.
func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.RecordsEvicted.Add(float64(n))
}

// Transition records a connection state change. state is the numeric state
// and name its label.
func (m *Metrics) Transition(state int, name string) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
	m.ConnectionTransitions.WithLabelValues(name).Inc()
}

// RunFinished records one completed run and its per-case results.
func (m *Metrics) RunFinished(passed bool, seconds float64, cases map[string]int) {
	if m == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(seconds)
	for r, n := range cases {
		m.TestCases.WithLabelValues(r).Add(float64(n))
	}
}

// ScanFinished records a registry scan.
func (m *Metrics) ScanFinished(plugins, failures int) {
	if m == nil {
		return
	}
	m.PluginsLoaded.Set(float64(plugins))
	m.ScanFailures.Add(float64(failures))
}

// Sample is a point-in-time reading of polled counters.
type Sample struct {
	BufferSize    int
	AuditDropped  uint64
	AuditErrors   uint64
	HeartbeatsOK  uint64
	HeartbeatsBad uint64
}

// Observe updates gauges from a sample. Heartbeat counters are monotonic;
// only the increase since the last sample is added.
func (m *Metrics) Observe(prev, cur Sample) {
	if m == nil {
		return
	}
	m.BufferSize.Set(float64(cur.BufferSize))
	m.AuditDropped.Set(float64(cur.AuditDropped))
	m.AuditErrors.Set(float64(cur.AuditErrors))
	if cur.HeartbeatsOK > prev.HeartbeatsOK {
		m.Heartbeats.WithLabelValues("ok").Add(float64(cur.HeartbeatsOK - prev.HeartbeatsOK))
	}
	if cur.HeartbeatsBad > prev.HeartbeatsBad {
		m.Heartbeats.WithLabelValues("failed").Add(float64(cur.HeartbeatsBad - prev.HeartbeatsBad))
	}
}
