package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_grants_total",
			Help: "Token grant outcomes by grant type.",
		},
		[]string{"grant", "result"},
	)

	keyRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_key_rotations_total",
		Help: "Signing key rotations.",
	})
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		authGrantsTotal, keyRotationsTotal)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveGrant counts a token grant attempt. Grant is "password" or
// "refresh_token"; result is "ok" or an error class.
func ObserveGrant(grant, result string) {
	authGrantsTotal.WithLabelValues(grant, result).Inc()
}

// ObserveKeyRotation counts one signing key rotation.
func ObserveKeyRotation() {
	keyRotationsTotal.Inc()
}

// CanonicalPath collapses per-entity path segments so metric labels stay
// low-cardinality. Unrecognized shapes pass through unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	if len(segs) >= 3 && segs[0] == "v1" {
		switch segs[1] {
		case "users":
			if len(segs) == 3 {
				return "/v1/users/:name"
			}
			if len(segs) == 4 {
				return "/v1/users/:name/" + segs[3]
			}
		case "keys":
			if len(segs) == 3 {
				return "/v1/keys/:kid"
			}
		}
	}
	return p
}

// Instrument wraps a handler with RPS, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for the metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
