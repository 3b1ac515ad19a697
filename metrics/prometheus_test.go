package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherMetric(t *testing.T, c *Collector, name string) *dto.MetricFamily {
	t.Helper()

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestCollectorCacheCounters(t *testing.T) {
	c := NewCollector()

	c.RecordHit()
	c.RecordHit()
	c.RecordMiss()
	c.RecordStore()
	c.RecordPurge(3)
	c.RecordPurge(0)
	c.RecordExpired(2)
	c.SetCacheSize(7)

	hits := gatherMetric(t, c, "scedge_cache_hits_total")
	require.NotNil(t, hits)
	assert.Equal(t, float64(2), hits.Metric[0].Counter.GetValue())

	misses := gatherMetric(t, c, "scedge_cache_misses_total")
	require.NotNil(t, misses)
	assert.Equal(t, float64(1), misses.Metric[0].Counter.GetValue())

	purges := gatherMetric(t, c, "scedge_cache_purges_total")
	require.NotNil(t, purges)
	assert.Equal(t, float64(3), purges.Metric[0].Counter.GetValue())

	expired := gatherMetric(t, c, "scedge_artifacts_expired_total")
	require.NotNil(t, expired)
	assert.Equal(t, float64(2), expired.Metric[0].Counter.GetValue())

	size := gatherMetric(t, c, "scedge_cache_size")
	require.NotNil(t, size)
	assert.Equal(t, float64(7), size.Metric[0].Gauge.GetValue())
}

func TestCollectorRequestMetrics(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("GET:/lookup", 5*time.Millisecond)
	c.RecordRequest("GET:/lookup", 15*time.Millisecond)
	c.RecordRequest("POST:/store", 2*time.Millisecond)

	requests := gatherMetric(t, c, "scedge_requests_total")
	require.NotNil(t, requests)
	require.Len(t, requests.Metric, 2)

	byRoute := map[string]float64{}
	for _, m := range requests.Metric {
		byRoute[m.Label[0].GetValue()] = m.Counter.GetValue()
	}
	assert.Equal(t, float64(2), byRoute["GET:/lookup"])
	assert.Equal(t, float64(1), byRoute["POST:/store"])

	duration := gatherMetric(t, c, "scedge_request_duration_seconds")
	require.NotNil(t, duration)

	var samples uint64
	for _, m := range duration.Metric {
		samples += m.Histogram.GetSampleCount()
	}
	assert.Equal(t, uint64(3), samples)
}

func TestCollectorUpstreamMetrics(t *testing.T) {
	c := NewCollector()

	c.RecordUpstreamRequest()
	c.RecordUpstreamRequest()
	c.RecordUpstreamFailure()
	c.RecordUpstreamLatency(30 * time.Millisecond)

	requests := gatherMetric(t, c, "scedge_upstream_requests_total")
	require.NotNil(t, requests)
	assert.Equal(t, float64(2), requests.Metric[0].Counter.GetValue())

	failures := gatherMetric(t, c, "scedge_upstream_failures_total")
	require.NotNil(t, failures)
	assert.Equal(t, float64(1), failures.Metric[0].Counter.GetValue())

	latency := gatherMetric(t, c, "scedge_upstream_latency_seconds")
	require.NotNil(t, latency)
	assert.Equal(t, uint64(1), latency.Metric[0].Histogram.GetSampleCount())
}

func TestCollectorExposition(t *testing.T) {
	c := NewCollector()
	c.RecordHit()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(recorder, request)

	assert.Equal(t, 200, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "scedge_cache_hits_total 1")
}
