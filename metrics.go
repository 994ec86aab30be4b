package willowmap

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus series of the rendering pipeline. All methods
// are safe on a nil receiver so metrics stay optional.
type Metrics struct {
	registry       *prometheus.Registry
	tileFetches    *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	tilesInFlight  *prometheus.GaugeVec
	clipped        *prometheus.CounterVec
	dependents     *prometheus.CounterVec
	scalesRendered prometheus.Counter
	navigations    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewMetrics creates a fresh registry with every pipeline series registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "willowmap",
			Name:      "tile_fetches_total",
			Help:      "Tile fetches by layer and result",
		}, []string{"layer", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "willowmap",
			Name:      "tile_fetch_duration_seconds",
			Help:      "Duration of tile fetches from request to callback",
			Buckets:   prometheus.DefBuckets,
		}, []string{"layer"}),
		tilesInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "willowmap",
			Name:      "tiles_in_flight",
			Help:      "Tiles requested and not yet resolved",
		}, []string{"layer"}),
		clipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "willowmap",
			Name:      "features_clipped_total",
			Help:      "Features replaced by clipped copies during assignment",
		}, []string{"layer"}),
		dependents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "willowmap",
			Name:      "dependent_tiles_total",
			Help:      "Dependent tile codes recorded during assignment",
		}, []string{"layer"}),
		scalesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "willowmap",
			Name:      "scales_rendered_total",
			Help:      "Fetch batches that resolved completely",
		}),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "willowmap",
			Name:      "navigations_total",
			Help:      "Navigations by mode (start, extend, jump)",
		}, []string{"mode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "willowmap",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the tile server",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "willowmap",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests served by the tile server",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	registry.MustRegister(
		m.tileFetches,
		m.fetchDuration,
		m.tilesInFlight,
		m.clipped,
		m.dependents,
		m.scalesRendered,
		m.navigations,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveTileFetch records one resolved tile fetch.
func (m *Metrics) ObserveTileFetch(layer string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tileFetches.WithLabelValues(layer, result).Inc()
	m.fetchDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// AddTilesInFlight adjusts the in-flight gauge of a layer by delta.
func (m *Metrics) AddTilesInFlight(layer string, delta int) {
	if m == nil {
		return
	}
	m.tilesInFlight.WithLabelValues(layer).Add(float64(delta))
}

// ObserveAssign records the clipping and dependent counts of one assignment.
func (m *Metrics) ObserveAssign(layer string, stats AssignStats) {
	if m == nil {
		return
	}
	if stats.Clipped > 0 {
		m.clipped.WithLabelValues(layer).Add(float64(stats.Clipped))
	}
	if stats.Dependents > 0 {
		m.dependents.WithLabelValues(layer).Add(float64(stats.Dependents))
	}
}

// IncScaleRendered increments the rendered-batch counter.
func (m *Metrics) IncScaleRendered() {
	if m == nil {
		return
	}
	m.scalesRendered.Inc()
}

// IncNavigation counts a navigation by mode.
func (m *Metrics) IncNavigation(mode string) {
	if m == nil {
		return
	}
	m.navigations.WithLabelValues(mode).Inc()
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpDuration.With(labels).Observe(duration.Seconds())
}

// Registry returns the underlying registry, or nil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
