// Package telemetry provides Prometheus metrics for upstream calls, cache
// lookups and the HTTP adapter.
package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// Cache lookup results.
const (
	CacheHit           = "hit"
	CacheMiss          = "miss"
	CacheStale         = "stale"
	CacheIneligible    = "ineligible"
	CacheHandleChanged = "handle_changed"
)

// hostPlatforms maps upstream hosts to platform labels.
var hostPlatforms = map[string]profile.Platform{
	"api.github.com":   profile.GitHub,
	"leetcode.com":     profile.LeetCode,
	"codeforces.com":   profile.Codeforces,
	"www.codechef.com": profile.CodeChef,
	"codechef.com":     profile.CodeChef,
}

// Manager owns the metrics and the registry they are registered on.
type Manager struct {
	registry  *prometheus.Registry
	namespace string
	buckets   []float64

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) { m.namespace = namespace }
}

// WithHistogramBuckets sets the duration buckets, in seconds.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) { m.buckets = buckets }
}

// WithRegistry sets the registry metrics are registered on.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) { m.registry = registry }
}

// New creates a Manager. Without WithRegistry a fresh registry is used, so
// Go runtime metrics are not exported.
func New(opts ...Option) *Manager {
	m := &Manager{
		namespace: "codemetrics",
		buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	m.upstreamRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "upstream_requests_total",
		Help:      "Outbound request attempts by platform and outcome",
	}, []string{"platform", "outcome"})
	m.upstreamDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "upstream_duration_seconds",
		Help:      "Outbound request attempt latency",
		Buckets:   m.buckets,
	}, []string{"platform"})
	m.cacheLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cache_lookups_total",
		Help:      "Freshness lookups by platform and result",
	}, []string{"platform", "result"})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "Inbound HTTP requests by route and status code",
	}, []string{"route", "code"})
	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Inbound HTTP request latency",
		Buckets:   m.buckets,
	}, []string{"route"})
	return m
}

// Registry returns the registry backing the metrics.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream records one outbound attempt. Its signature matches
// fetch.Observer.
func (m *Manager) ObserveUpstream(host string, status int, err error, elapsed time.Duration) {
	platform := PlatformForHost(host)
	m.upstreamRequests.WithLabelValues(platform, Outcome(status, err)).Inc()
	m.upstreamDuration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

// ObserveCache records a freshness lookup result.
func (m *Manager) ObserveCache(platform profile.Platform, result string) {
	m.cacheLookups.WithLabelValues(string(platform), result).Inc()
}

// ObserveHTTP records an inbound request.
func (m *Manager) ObserveHTTP(route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// PlatformForHost returns the platform label for an upstream host, or "other".
func PlatformForHost(host string) string {
	h := strings.ToLower(host)
	if i := strings.LastIndexByte(h, ':'); i >= 0 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	if p, ok := hostPlatforms[h]; ok {
		return string(p)
	}
	return "other"
}

// Outcome labels an attempt: "ok", "http_4xx"/"http_5xx", or the error kind.
func Outcome(status int, err error) string {
	if err != nil {
		return string(profile.Kind(err))
	}
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status >= 400 && status < 500:
		return "http_4xx"
	case status >= 500:
		return "http_5xx"
	default:
		return "http_" + strconv.Itoa(status)
	}
}
