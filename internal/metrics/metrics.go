package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pastebin"

// Read outcomes recorded by ObserveRead.
const (
	ReadServed   = "served"
	ReadNotFound = "not_found"
	ReadError    = "error"
)

// Metrics owns the collectors exported on /metrics. Each instance has its own registry
// so tests can build independent routers.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pastesCreated   prometheus.Counter
	pasteReads      *prometheus.CounterVec
	pastesPurged    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Request duration seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		pastesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "pastes_created_total", Help: "Pastes created"},
		),
		pasteReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "paste_reads_total", Help: "View-consuming reads by outcome"},
			[]string{"outcome"},
		),
		pastesPurged: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "pastes_purged_total", Help: "Dead pastes removed by the retention sweeper"},
		),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.pastesCreated,
		m.pasteReads,
		m.pastesPurged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by the matched route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// PasteCreated counts a successful create.
func (m *Metrics) PasteCreated() {
	if m == nil {
		return
	}
	m.pastesCreated.Inc()
}

// ObserveRead counts a view-consuming read with outcome ReadServed, ReadNotFound or ReadError.
func (m *Metrics) ObserveRead(outcome string) {
	if m == nil {
		return
	}
	m.pasteReads.WithLabelValues(outcome).Inc()
}

// PastesPurged adds n removed pastes.
func (m *Metrics) PastesPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pastesPurged.Add(float64(n))
}
