// Package monitoring exposes Prometheus metrics for bundle builds, page
// processing and the development server.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics set.
type Config struct {
	// Namespace is the metrics namespace (default: "assetmin").
	Namespace string

	// Buckets are the histogram buckets for build duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives every metric. A nil registry gets a fresh one, so
	// independent instances never collide on registration.
	Registry *prometheus.Registry
}

// Option configures Metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the build duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the application metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	bundleRequests *prometheus.CounterVec
	buildDuration  *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec
	pageDuration   prometheus.Histogram
	watcherEvents  *prometheus.CounterVec
	reloadClients  prometheus.Gauge
}

// New registers the metrics.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "assetmin",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(cfg.Registry)

	return &Metrics{
		registry: cfg.Registry,
		bundleRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "bundle_requests_total",
			Help:      "Bundle requests by resource kind and outcome (hit, build, error).",
		}, []string{"kind", "outcome"}),
		buildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "bundle_build_duration_seconds",
			Help:      "Time spent concatenating and publishing a bundle.",
			Buckets:   cfg.Buckets,
		}, []string{"kind"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "group_fallbacks_total",
			Help:      "Resource groups served unbundled, by error kind.",
		}, []string{"kind", "reason"}),
		pageDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "page_process_duration_seconds",
			Help:      "Time spent processing the resource groups of one page.",
			Buckets:   cfg.Buckets,
		}),
		watcherEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "watcher_events_total",
			Help:      "File system events seen by the watcher.",
		}, []string{"op"}),
		reloadClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "reload_clients",
			Help:      "Connected live-reload clients.",
		}),
	}
}

// BundleHit records a bundle served from an existing build.
func (m *Metrics) BundleHit(kind string) {
	if m == nil {
		return
	}
	m.bundleRequests.WithLabelValues(kind, "hit").Inc()
}

// BundleBuilt records a completed build and its duration.
func (m *Metrics) BundleBuilt(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.bundleRequests.WithLabelValues(kind, "build").Inc()
	m.buildDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// BundleFailed records a bundle request that produced no bundle.
func (m *Metrics) BundleFailed(kind string) {
	if m == nil {
		return
	}
	m.bundleRequests.WithLabelValues(kind, "error").Inc()
}

// Fallback records a group returned unbundled.
func (m *Metrics) Fallback(kind, reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind, reason).Inc()
}

// PageProcessed records the processing time of one page.
func (m *Metrics) PageProcessed(d time.Duration) {
	if m == nil {
		return
	}
	m.pageDuration.Observe(d.Seconds())
}

// WatcherEvent records a file system event.
func (m *Metrics) WatcherEvent(op string) {
	if m == nil {
		return
	}
	m.watcherEvents.WithLabelValues(op).Inc()
}

// ReloadClientConnected tracks live-reload connections.
func (m *Metrics) ReloadClientConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.reloadClients.Inc()
	} else {
		m.reloadClients.Dec()
	}
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
