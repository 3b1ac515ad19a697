package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memophor/scedge/types"
)

type Collector struct {
	registry *prometheus.Registry

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheStores      prometheus.Counter
	cachePurges      prometheus.Counter
	cacheSize        prometheus.Gauge
	artifactsExpired prometheus.Counter

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamRequests prometheus.Counter
	upstreamFailures prometheus.Counter
	upstreamLatency  prometheus.Histogram
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: registry,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_hits_total",
			Help: "Total number of cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_misses_total",
			Help: "Total number of cache misses",
		}),
		cacheStores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_stores_total",
			Help: "Total number of cache stores",
		}),
		cachePurges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_purges_total",
			Help: "Total number of purged cache entries",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scedge_cache_size",
			Help: "Current number of cached artifacts",
		}),
		artifactsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_artifacts_expired_total",
			Help: "Total number of artifacts evicted by expiry",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scedge_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scedge_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0},
		}, []string{"route"}),
		upstreamRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_upstream_requests_total",
			Help: "Total number of hydration requests to the upstream origin",
		}),
		upstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_upstream_failures_total",
			Help: "Total number of failed hydration requests",
		}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scedge_upstream_latency_seconds",
			Help:    "Hydration request latency in seconds",
			Buckets: []float64{0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0},
		}),
	}

	registry.MustRegister(
		c.cacheHits, c.cacheMisses, c.cacheStores, c.cachePurges, c.cacheSize,
		c.artifactsExpired, c.requestsTotal, c.requestDuration,
		c.upstreamRequests, c.upstreamFailures, c.upstreamLatency,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the text exposition handler; the server bridges it onto
// fasthttp via fasthttpadaptor.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordHit()  { c.cacheHits.Inc() }
func (c *Collector) RecordMiss() { c.cacheMisses.Inc() }

func (c *Collector) RecordStore() { c.cacheStores.Inc() }

func (c *Collector) RecordPurge(count int) {
	if count > 0 {
		c.cachePurges.Add(float64(count))
	}
}

func (c *Collector) RecordExpired(count int) {
	if count > 0 {
		c.artifactsExpired.Add(float64(count))
	}
}

func (c *Collector) SetCacheSize(size int) {
	c.cacheSize.Set(float64(size))
}

func (c *Collector) RecordRequest(route string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) RecordUpstreamRequest() { c.upstreamRequests.Inc() }
func (c *Collector) RecordUpstreamFailure() { c.upstreamFailures.Inc() }

func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

var _ types.MetricsRecorder = (*Collector)(nil)
