// Package metrics defines the profiler's Prometheus metrics.
//
// All methods are safe on a nil *Metrics, so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "profiler"

// Metrics holds every collector the profiler updates.
type Metrics struct {
	registry *prometheus.Registry

	messages         *prometheus.CounterVec
	evaluationErrors *prometheus.CounterVec
	lateEvents       *prometheus.CounterVec
	windowsClosed    *prometheus.CounterVec
	windowsExpired   *prometheus.CounterVec
	openWindows      prometheus.Gauge
	recordsWritten   prometheus.Counter
	recordsDropped   prometheus.Counter
	flushFailures    prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	modelFailures    *prometheus.CounterVec
}

// New builds the collectors on a fresh registry with Go runtime metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Messages applied to a profile window.",
		}, []string{"profile"}),
		evaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evaluation_errors_total",
			Help: "Expression evaluation failures.",
		}, []string{"profile"}),
		lateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "late_events_total",
			Help: "Messages dropped because their period was already closed.",
		}, []string{"profile"}),
		windowsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "windows_closed_total",
			Help: "Windows closed at a period boundary.",
		}, []string{"profile"}),
		windowsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "windows_expired_total",
			Help: "Windows discarded after their TTL without output.",
		}, []string{"profile"}),
		openWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_windows",
			Help: "Windows currently accumulating.",
		}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_written_total",
			Help: "Profile cells written to the store.",
		}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_dropped_total",
			Help: "Profile cells dropped after exhausting write retries.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_failures_total",
			Help: "Failed flush attempts, including retried ones.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_cache_lookups_total",
			Help: "Model result cache lookups by outcome.",
		}, []string{"result"}),
		modelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_failures_total",
			Help: "Failed model invocations.",
		}, []string{"model"}),
	}

	m.registry.MustRegister(
		m.messages, m.evaluationErrors, m.lateEvents,
		m.windowsClosed, m.windowsExpired, m.openWindows,
		m.recordsWritten, m.recordsDropped, m.flushFailures,
		m.cacheLookups, m.modelFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MessageApplied(profile string) {
	if m != nil {
		m.messages.WithLabelValues(profile).Inc()
	}
}

func (m *Metrics) EvaluationFailed(profile string) {
	if m != nil {
		m.evaluationErrors.WithLabelValues(profile).Inc()
	}
}

func (m *Metrics) LateEvent(profile string) {
	if m != nil {
		m.lateEvents.WithLabelValues(profile).Inc()
	}
}

func (m *Metrics) WindowClosed(profile string) {
	if m != nil {
		m.windowsClosed.WithLabelValues(profile).Inc()
	}
}

func (m *Metrics) WindowExpired(profile string) {
	if m != nil {
		m.windowsExpired.WithLabelValues(profile).Inc()
	}
}

func (m *Metrics) SetOpenWindows(n int) {
	if m != nil {
		m.openWindows.Set(float64(n))
	}
}

func (m *Metrics) RecordsWritten(n int) {
	if m != nil {
		m.recordsWritten.Add(float64(n))
	}
}

func (m *Metrics) RecordsDropped(n int) {
	if m != nil {
		m.recordsDropped.Add(float64(n))
	}
}

func (m *Metrics) FlushFailed() {
	if m != nil {
		m.flushFailures.Inc()
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) ModelFailed(model string) {
	if m != nil {
		m.modelFailures.WithLabelValues(model).Inc()
	}
}
