package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "release_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "release_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "release_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ingestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "release_layer",
			Subsystem: "ingest",
			Name:      "releases_total",
			Help:      "Total number of release ingestion attempts by outcome.",
		},
		[]string{"outcome"},
	)

	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "release_layer",
			Subsystem: "downloads",
			Name:      "served_total",
			Help:      "Total number of artifact downloads by outcome.",
		},
		[]string{"outcome"},
	)

	updateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "release_layer",
			Subsystem: "checks",
			Name:      "requests_total",
			Help:      "Total number of update-check requests by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ingestions,
		downloads,
		updateChecks,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordIngestion counts one ingestion attempt with its outcome.
func RecordIngestion(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	ingestions.WithLabelValues(outcome).Inc()
}

// RecordDownload counts one artifact download attempt with its outcome.
func RecordDownload(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	downloads.WithLabelValues(outcome).Inc()
}

// RecordUpdateCheck counts one update-check request with its result.
func RecordUpdateCheck(result string) {
	if result == "" {
		result = "unknown"
	}
	updateChecks.WithLabelValues(result).Inc()
}

// IngestRecorder adapts the package counters to the ingestion service.
type IngestRecorder struct{}

func (IngestRecorder) ObserveIngestion(outcome string) { RecordIngestion(outcome) }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "applications":
		if len(parts) == 1 {
			return "/applications"
		}
		if len(parts) == 2 {
			return "/applications/:id"
		}
		return "/applications/:id/" + parts[2]
	case "webhook":
		return "/webhook/:secret"
	default:
		return "/" + parts[0]
	}
}
