package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for Pulsar metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	dispatchesTotal      *prometheus.CounterVec
	timeoutsTotal        *prometheus.CounterVec
	lateCompletionsTotal *prometheus.CounterVec
	peerRequestsTotal    *prometheus.CounterVec

	// Histograms
	dispatchDuration    *prometheus.HistogramVec
	peerRequestDuration *prometheus.HistogramVec

	// Gauges
	uptime          prometheus.GaugeFunc
	inflight        prometheus.Gauge
	registeredTotal *prometheus.GaugeVec
}

// Default histogram buckets for dispatch duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_dispatched_total",
				Help:      "Total number of dispatched actions",
			},
			[]string{"action", "route", "outcome"},
		),

		timeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_timeouts_total",
				Help:      "Total number of calls settled by their deadline",
			},
			[]string{"action"},
		),

		lateCompletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_late_completions_total",
				Help:      "Total number of results dropped because the call had already settled",
			},
			[]string{"action"},
		),

		peerRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "peer_requests_total",
				Help:      "Total number of envelopes sent to peers",
			},
			[]string{"transport", "status"},
		),

		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_dispatch_duration_milliseconds",
				Help:      "Action dispatch duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"action", "route"},
		),

		peerRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "peer_request_duration_milliseconds",
				Help:      "Round trip of one envelope to a peer in milliseconds",
				Buckets:   buckets,
			},
			[]string{"transport"},
		),

		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "actions_inflight",
				Help:      "Number of dispatched actions not yet settled",
			},
		),

		registeredTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "actions_registered",
				Help:      "Number of registered actions by route",
			},
			[]string{"route"},
		),
	}

	startTime := StartTime()
	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the process started",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	registry.MustRegister(
		pm.dispatchesTotal,
		pm.timeoutsTotal,
		pm.lateCompletionsTotal,
		pm.peerRequestsTotal,
		pm.dispatchDuration,
		pm.peerRequestDuration,
		pm.uptime,
		pm.inflight,
		pm.registeredTotal,
	)

	promMetrics = pm
}

func recordPrometheusDispatch(action, route string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	promMetrics.dispatchesTotal.WithLabelValues(action, route, outcome).Inc()
	promMetrics.dispatchDuration.WithLabelValues(action, route).Observe(float64(durationMs))
}

func recordPrometheusTimeout(action string) {
	if promMetrics == nil {
		return
	}
	promMetrics.timeoutsTotal.WithLabelValues(action).Inc()
}

func recordPrometheusLateCompletion(action string) {
	if promMetrics == nil {
		return
	}
	promMetrics.lateCompletionsTotal.WithLabelValues(action).Inc()
}

// RecordPeerRequest records one envelope round trip on a transport
func RecordPeerRequest(transport string, durationMs int64, err error) {
	if promMetrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	promMetrics.peerRequestsTotal.WithLabelValues(transport, status).Inc()
	promMetrics.peerRequestDuration.WithLabelValues(transport).Observe(float64(durationMs))
}

// IncInflight marks a dispatch as started
func IncInflight() {
	if promMetrics == nil {
		return
	}
	promMetrics.inflight.Inc()
}

// DecInflight marks a dispatch as settled
func DecInflight() {
	if promMetrics == nil {
		return
	}
	promMetrics.inflight.Dec()
}

// SetRegisteredActions sets the registered action gauge for a route
func SetRegisteredActions(route string, n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.registeredTotal.WithLabelValues(route).Set(float64(n))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
