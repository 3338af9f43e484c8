package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of the mock embedding service, labelled by chi route pattern.
var (
	ServiceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "midras",
			Subsystem: "mock",
			Name:      "request_duration_seconds",
			Help:      "Mock embedding service request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"route"},
	)

	ServiceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midras",
			Subsystem: "mock",
			Name:      "requests_total",
			Help:      "Requests served by the mock embedding service",
		},
		[]string{"route", "status"},
	)

	ServiceInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "midras",
			Subsystem: "mock",
			Name:      "requests_in_flight",
			Help:      "Requests currently being handled by the mock embedding service",
		},
	)

	ServiceUnitsEmbedded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "midras",
			Subsystem: "mock",
			Name:      "units_embedded_total",
			Help:      "Images and queries embedded by the mock service",
		},
		[]string{"kind"},
	)
)

var registerServiceOnce sync.Once

// RegisterServiceMetrics registers the mock service collectors with the default registry.
func RegisterServiceMetrics() {
	registerServiceOnce.Do(func() {
		prometheus.MustRegister(ServiceRequestDuration, ServiceRequestsTotal, ServiceInFlight, ServiceUnitsEmbedded)
	})
}

// Middleware records duration, count and concurrency of every request.
// Unmatched requests are reported under the "unmatched" route.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ServiceInFlight.Inc()
			defer ServiceInFlight.Dec()

			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := routeLabel(r)
			ServiceRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			ServiceRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.status)).Inc()
		})
	}
}

// routeLabel keeps label cardinality bounded by the router's patterns.
func routeLabel(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return "unmatched"
	}
	if p := rc.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b) //nolint:wrapcheck // delegating to underlying ResponseWriter
}
