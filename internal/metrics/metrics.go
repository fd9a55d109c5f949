package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	reconcilePasses     *prometheus.CounterVec
	reconcileDuration   *prometheus.HistogramVec
	itemErrors          *prometheus.CounterVec
	liveResources       *prometheus.GaugeVec
	feedPolls           *prometheus.CounterVec
	feedPollDuration    prometheus.Histogram
}

// New creates a fresh Metrics registry with HTTP, reconcile and feed metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safemap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "safemap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	reconcilePasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safemap",
		Name:      "reconcile_passes_total",
		Help:      "Reconciliation passes by overlay category and outcome",
	}, []string{"category", "outcome"})

	reconcileDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "safemap",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of reconciliation passes that changed the surface",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"category"})

	itemErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safemap",
		Name:      "item_errors_total",
		Help:      "Items skipped or surface operations that failed, by category",
	}, []string{"category"})

	liveResources := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "safemap",
		Name:      "live_resources",
		Help:      "Surface resources currently owned by the overlay",
	}, []string{"kind"})

	feedPolls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safemap",
		Name:      "feed_polls_total",
		Help:      "Dataset polls by result",
	}, []string{"status"})

	feedPollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "safemap",
		Name:      "feed_poll_duration_seconds",
		Help:      "Duration of dataset polls from query to push",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		reconcilePasses,
		reconcileDuration,
		itemErrors,
		liveResources,
		feedPolls,
		feedPollDuration,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		reconcilePasses:     reconcilePasses,
		reconcileDuration:   reconcileDuration,
		itemErrors:          itemErrors,
		liveResources:       liveResources,
		feedPolls:           feedPolls,
		feedPollDuration:    feedPollDuration,
	}
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
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveReconcile counts one pass. Only passes that reached the surface
// contribute to the duration histogram.
func (m *Metrics) ObserveReconcile(category, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcilePasses.WithLabelValues(category, outcome).Inc()
	if outcome == "applied" || outcome == "failed" {
		m.reconcileDuration.WithLabelValues(category).Observe(duration.Seconds())
	}
}

func (m *Metrics) IncItemError(category string) {
	if m == nil {
		return
	}
	m.itemErrors.WithLabelValues(category).Inc()
}

// SetLiveResources publishes the tracker's live counts.
func (m *Metrics) SetLiveResources(visuals, listeners int64) {
	if m == nil {
		return
	}
	m.liveResources.WithLabelValues("visual").Set(float64(visuals))
	m.liveResources.WithLabelValues("listener").Set(float64(listeners))
}

// ObserveFeedPoll records one dataset poll. status is "changed", "unchanged"
// or "error".
func (m *Metrics) ObserveFeedPoll(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.feedPolls.WithLabelValues(status).Inc()
	m.feedPollDuration.Observe(duration.Seconds())
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
