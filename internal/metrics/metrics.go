// Package metrics exposes the bridge's Prometheus collectors. A nil *Metrics
// is valid and records nothing, so components can be built without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sbridge"

// Metrics holds every collector registered by the bridge.
type Metrics struct {
	registry *prometheus.Registry

	delivered       *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	filtered        *prometheus.CounterVec
	webhookRejected *prometheus.CounterVec
	pollCycles      prometheus.Counter
	pollFailures    prometheus.Counter
	pollDuration    prometheus.Histogram
	subscribers     prometheus.Gauge
	rpcCalls        *prometheus.CounterVec
	sinkDropped     *prometheus.CounterVec
	markersPurged   prometheus.Counter
}

// New creates a registry with the bridge collectors plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Inbound messages published to subscribers, by source.",
		}, []string{"source"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Inbound messages discarded because another path claimed them first.",
		}, []string{"source"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filtered_total",
			Help:      "Inbound messages dropped by the sender allow-list or empty content.",
		}, []string{"reason"}),
		webhookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejected_total",
			Help:      "Webhook requests rejected before acknowledgment, by reason.",
		}, []string{"reason"}),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Poll cycles whose fetch failed.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live subscriber connections.",
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Command surface calls, by method and outcome.",
		}, []string{"method", "outcome"}),
		sinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_dropped_total",
			Help:      "Events an external sink could not accept.",
		}, []string{"sink"}),
		markersPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markers_purged_total",
			Help:      "Processed markers removed by the retention job.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.delivered,
		m.duplicates,
		m.filtered,
		m.webhookRejected,
		m.pollCycles,
		m.pollFailures,
		m.pollDuration,
		m.subscribers,
		m.rpcCalls,
		m.sinkDropped,
		m.markersPurged,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Delivered counts one published inbound message.
func (m *Metrics) Delivered(source string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(source).Inc()
}

// Duplicate counts one message lost to the first-seen rule.
func (m *Metrics) Duplicate(source string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(source).Inc()
}

// Filtered counts one dropped message.
func (m *Metrics) Filtered(reason string) {
	if m == nil {
		return
	}
	m.filtered.WithLabelValues(reason).Inc()
}

// WebhookRejected counts one rejected webhook request.
func (m *Metrics) WebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.webhookRejected.WithLabelValues(reason).Inc()
}

// PollCycle records one finished cycle.
func (m *Metrics) PollCycle(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
	m.pollDuration.Observe(d.Seconds())
	if failed {
		m.pollFailures.Inc()
	}
}

// SetSubscribers sets the live subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// RPCCall counts one command surface call.
func (m *Metrics) RPCCall(method, outcome string) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(method, outcome).Inc()
}

// SinkDropped counts one event a sink refused.
func (m *Metrics) SinkDropped(sink string) {
	if m == nil {
		return
	}
	m.sinkDropped.WithLabelValues(sink).Inc()
}

// MarkersPurged adds n purged markers.
func (m *Metrics) MarkersPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.markersPurged.Add(float64(n))
}
