package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "irrigation"

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	SyncRounds        *prometheus.CounterVec
	ReadingsStored    prometheus.Counter
	ReadingsRejected  prometheus.Counter
	CommandsQueued    *prometheus.CounterVec
	CommandsDelivered prometheus.Counter
	DevicesOffline    prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SyncRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rounds_total",
			Help:      "Number of device sync rounds by result.",
		}, []string{"result"}),
		ReadingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "readings_stored_total",
			Help:      "Number of zone readings persisted.",
		}),
		ReadingsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "readings_rejected_total",
			Help:      "Number of zone readings skipped because they failed validation or storage.",
		}),
		CommandsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "queued_total",
			Help:      "Number of commands queued by origin and type.",
		}, []string{"origin", "type"}),
		CommandsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "delivered_total",
			Help:      "Number of commands handed to devices.",
		}),
		DevicesOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devices",
			Name:      "marked_offline_total",
			Help:      "Number of devices marked offline by the presence sweep.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SyncRounds,
		m.ReadingsStored,
		m.ReadingsRejected,
		m.CommandsQueued,
		m.CommandsDelivered,
		m.DevicesOffline,
		m.HTTPRequests,
		m.HTTPLatency,
	)

	return m
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
