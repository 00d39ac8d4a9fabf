package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
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
)

// Domain metrics.
var (
	ChallengesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payline_auth_challenges_issued_total",
		Help: "Wallet login challenges issued.",
	})

	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payline_auth_logins_total",
			Help: "Wallet signature verifications by outcome.",
		},
		[]string{"outcome"},
	)

	RefreshAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payline_auth_refreshes_total",
			Help: "Refresh token rotations by outcome.",
		},
		[]string{"outcome"},
	)

	AuthorizationDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payline_authz_denials_total",
			Help: "Rejected organization-scoped actions by reason.",
		},
		[]string{"reason"},
	)

	PayrollRunsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payline_payroll_runs_recorded_total",
			Help: "Payroll runs recorded by initial status.",
		},
		[]string{"status"},
	)

	PreviewDeficits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payline_payroll_preview_deficits_total",
		Help: "Payroll previews whose total exceeded the reported balance.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "payline_ready",
		Help: "1 when the last readiness check passed.",
	})
)

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ChallengesIssued, LoginAttempts, RefreshAttempts,
			AuthorizationDenials, PayrollRunsRecorded, PreviewDeficits,
			ready,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// collections whose following segment is a resource id.
var idCollections = map[string]bool{
	"organizations": true,
	"members":       true,
	"recipients":    true,
	"runs":          true,
}

// CanonicalPath collapses resource ids so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idCollections[parts[i-1]] && parts[i] != "" {
			parts[i] = ":id"
			i++
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
