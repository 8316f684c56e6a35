package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/primaria-go/internal/cache"
	"github.com/54b3r/primaria-go/internal/orchestrator"
)

const namespace = "primaria"

// noMunicipality labels chat requests rejected before a tenant was resolved.
const noMunicipality = "none"

// serverMetrics holds the Prometheus metrics owned by the HTTP server. Each
// Server registers its own set so tests can use an isolated registry.
type serverMetrics struct {
	// chatRequests is partitioned by municipality and outcome: the answer
	// state (cached, answered, no_context, degraded) or invalid, not_found,
	// timeout, canceled.
	chatRequests *prometheus.CounterVec
	chatDuration *prometheus.HistogramVec
	chatInFlight prometheus.Gauge
	// chatSources is the number of documents cited per answer.
	chatSources prometheus.Histogram
	// cacheSimilarity is the similarity of the entry that served a hit.
	cacheSimilarity prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// newServerMetrics registers the server metrics against reg. When stats is
// non-nil the response cache counters are exported from it at scrape time.
func newServerMetrics(reg prometheus.Registerer, stats func() cache.Stats) *serverMetrics {
	factory := promauto.With(reg)
	if stats != nil {
		reg.MustRegister(newCacheCollector(stats))
	}

	return &serverMetrics{
		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "requests_total",
			Help: "Completed /api/chat requests by municipality and outcome.",
		}, []string{"municipality", "outcome"}),
		chatDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chat", Name: "duration_seconds",
			Help:    "Time from receipt to response of /api/chat requests.",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		chatInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chat", Name: "in_flight",
			Help: "/api/chat requests currently being answered.",
		}),
		chatSources: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chat", Name: "sources",
			Help:    "Documents cited per answer.",
			Buckets: []float64{0, 1, 2, 3, 5},
		}),
		cacheSimilarity: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hit_similarity",
			Help:    "Cosine similarity between a question and the cached question that answered it.",
			Buckets: []float64{0.85, 0.88, 0.9, 0.92, 0.95, 0.98, 1},
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, handler and status code.",
		}, []string{"method", "handler", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "handler"}),
	}
}

// observeChat records a chat request that failed or was rejected.
func (m *serverMetrics) observeChat(municipality, outcome string, elapsed time.Duration) {
	if municipality == "" {
		municipality = noMunicipality
	}
	m.chatRequests.WithLabelValues(municipality, outcome).Inc()
	m.chatDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// observeAnswer records a chat request that produced an answer.
func (m *serverMetrics) observeAnswer(resp orchestrator.Response, elapsed time.Duration) {
	m.observeChat(resp.Tenant.ID, string(resp.State), elapsed)
	m.chatSources.Observe(float64(len(resp.Sources)))
	if resp.Cached {
		m.cacheSimilarity.Observe(resp.Similarity)
	}
}

// instrument wraps next so every request is counted and timed under the
// logical handler name.
func (m *serverMetrics) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		m.httpRequests.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}

// cacheCollector exports the response cache statistics. The cache keeps its
// own counters, so they are read at scrape time rather than mirrored.
type cacheCollector struct {
	stats func() cache.Stats

	entries, hits, misses, stores, removed *prometheus.Desc
}

func newCacheCollector(stats func() cache.Stats) *cacheCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}
	return &cacheCollector{
		stats:   stats,
		entries: desc("entries", "Answers held by the response cache per municipality.", "municipality"),
		hits:    desc("hits_total", "Cache lookups that returned an answer."),
		misses:  desc("misses_total", "Cache lookups that found no answer."),
		stores:  desc("stores_total", "Answers written to the cache."),
		removed: desc("removed_total", "Entries dropped by expiry, bounds or flushes."),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.entries, c.hits, c.misses, c.stores, c.removed} {
		ch <- d
	}
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for tenant, n := range s.PerTenant {
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(n), tenant)
	}
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.stores, prometheus.CounterValue, float64(s.Stores))
	ch <- prometheus.MustNewConstMetric(c.removed, prometheus.CounterValue, float64(s.Removed))
}
