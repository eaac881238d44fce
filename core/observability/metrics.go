package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fileserver"

// Metrics holds the server's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionErrors    *prometheus.CounterVec
	requests            *prometheus.CounterVec
	bytesSent           prometheus.Counter

	tasksSubmitted prometheus.Counter
	workersBusy    prometheus.Gauge
	taskDuration   prometheus.Histogram
}

// NewMetrics creates the collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}),
		connectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "errors_total",
			Help:      "Connections abandoned because of an error, by error kind",
		}, []string{"kind"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Responses written, by status code",
		}, []string{"status"}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sent_bytes_total",
			Help:      "Bytes written in responses",
		}),
		tasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "submitted_total",
			Help:      "Connections handed to the worker pool",
		}),
		workersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "busy_workers",
			Help:      "Workers currently serving a connection",
		}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "connection_duration_seconds",
			Help:      "Time a worker spent serving one connection",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ConnectionAccepted counts one accepted connection
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

// ConnectionFailed counts one abandoned connection of the given error kind
func (m *Metrics) ConnectionFailed(kind string) {
	if m == nil {
		return
	}
	m.connectionErrors.WithLabelValues(kind).Inc()
}

// ResponseWritten counts one response with its status and size
func (m *Metrics) ResponseWritten(status int, n int64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.bytesSent.Add(float64(n))
}

// TaskSubmitted implements pools.Observer
func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

// TaskStarted implements pools.Observer
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.workersBusy.Inc()
}

// TaskFinished implements pools.Observer
func (m *Metrics) TaskFinished(d time.Duration, _ error) {
	if m == nil {
		return
	}
	m.workersBusy.Dec()
	m.taskDuration.Observe(d.Seconds())
}
