package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector owns a private Prometheus registry and prefixes every
// metric it creates with the service namespace.
type MetricsCollector struct {
	namespace string
	registry  *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetricsCollector builds a collector for service. Hyphens in the service
// name become underscores so the namespace is a valid metric prefix.
func NewMetricsCollector(service, version, commit string) *MetricsCollector {
	mc := &MetricsCollector{
		namespace: strings.ReplaceAll(service, "-", "_"),
		registry:  prometheus.NewRegistry(),
	}
	mc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mc.requests = mc.NewCounter("http_requests_total", "HTTP requests by route and status", []string{"method", "route", "status"})
	mc.latency = mc.NewHistogram("http_request_duration_seconds", "HTTP request latency", []string{"method", "route"}, nil)
	mc.NewGauge("build_info", "Build metadata, always 1", []string{"version", "commit"}).
		WithLabelValues(version, commit).Set(1)
	return mc
}

func (mc *MetricsCollector) Registry() *prometheus.Registry { return mc.registry }

func (mc *MetricsCollector) name(metric string) string {
	return mc.namespace + "_" + metric
}

func register[C prometheus.Collector](reg *prometheus.Registry, c C) C {
	reg.MustRegister(c)
	return c
}

func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	return register(mc.registry, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: mc.name(name), Help: help}, labels))
}

func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	return register(mc.registry, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: mc.name(name), Help: help}, labels))
}

// NewHistogram uses prometheus.DefBuckets when buckets is nil.
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return register(mc.registry, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: mc.name(name), Help: help, Buckets: buckets}, labels))
}

// MetricsMiddleware records request counts and latency keyed by the matched
// route template, so path parameters do not explode label cardinality.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		mc.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		mc.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry}))
}
