// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

var (
	cacheLookupsTotal             *prometheus.CounterVec
	cacheWritesTotal              *prometheus.CounterVec
	fetchesTotal                  *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	fetchDurationSeconds          *prometheus.HistogramVec
	headlessPromotionsTotal       prometheus.Counter
	headlessDocumentHops          prometheus.Histogram
	extractionsTotal              *prometheus.CounterVec
	inflightSharedTotal           prometheus.Counter
	retrievalsTotal               *prometheus.CounterVec
	sideEffectErrorsTotal         *prometheus.CounterVec
	storeReapedTotal              prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	probeTLSHandshakeTimeoutTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_lookups_total",
				Help: "Article store lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		cacheWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_writes_total",
				Help: "Article store writes, labeled by status.",
			},
			[]string{"status"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_fetches_total",
				Help: "Origin fetches, labeled by site, fetcher and status.",
			},
			[]string{"site", "fetcher", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_fetch_duration_seconds",
				Help:    "Histogram of origin fetch latencies, labeled by fetcher.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"fetcher"},
		)

		headlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_headless_promotions_total",
				Help: "Probe responses escalated to the headless fetcher.",
			},
		)

		headlessDocumentHops = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_headless_document_hops",
				Help:    "Documents loaded by a headless render that redirected or passed a challenge.",
				Buckets: []float64{2, 3, 4, 6, 10},
			},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_extractions_total",
				Help: "Article extractions, labeled by status.",
			},
			[]string{"status"},
		)

		inflightSharedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_inflight_shared_total",
				Help: "Retrievals answered by joining an in-flight miss for the same key.",
			},
		)

		retrievalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_retrievals_total",
				Help: "Completed retrievals, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sideEffectErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_side_effect_errors_total",
				Help: "Best-effort side effect failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		storeReapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_store_reaped_total",
				Help: "Expired entries removed by the embedded store reaper.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)

		probeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCacheLookup counts a store lookup by result.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheWrite counts a store write.
func ObserveCacheWrite(ok bool) {
	Init()
	cacheWritesTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// ObserveFetch records one origin fetch. A zero code means a transport error.
func ObserveFetch(site, fetcher string, code int, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	status := "error"
	if code > 0 {
		status = strconv.Itoa(code)
	}
	fetchesTotal.WithLabelValues(sanitizedSite, fetcher, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// ObserveHeadlessPromotion counts a probe escalated to headless.
func ObserveHeadlessPromotion() {
	Init()
	headlessPromotionsTotal.Inc()
}

// ObserveHeadlessHops records how many documents a headless render loaded.
func ObserveHeadlessHops(n int) {
	Init()
	headlessDocumentHops.Observe(float64(n))
}

// ObserveExtraction counts an extraction attempt.
func ObserveExtraction(ok bool) {
	Init()
	extractionsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// ObserveInflightShared counts a caller that joined an in-flight miss.
func ObserveInflightShared() {
	Init()
	inflightSharedTotal.Inc()
}

// ObserveRetrieval counts a finished retrieval by outcome.
func ObserveRetrieval(outcome string) {
	Init()
	retrievalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSideEffectError counts a failed best-effort sink.
func ObserveSideEffectError(sink string) {
	Init()
	sideEffectErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveStoreReaped adds the number of entries removed by a reap pass.
func ObserveStoreReaped(n int) {
	Init()
	if n > 0 {
		storeReapedTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	probeTLSHandshakeTimeoutTotal.Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
