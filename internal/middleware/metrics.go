package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"media-pipeline/internal/metrics"
)

// MetricsConfig selects which requests the metrics middleware observes.
type MetricsConfig struct {
	// SkipPaths are path prefixes left out of the HTTP series.
	SkipPaths []string
}

// DefaultMetricsConfig leaves the scrape and probe endpoints out.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{SkipPaths: []string{"/metrics", "/health", "/healthz", "/livez", "/readyz"}}
}

// Metrics observes request counts, latencies and in-flight requests.
// Installed with mux.Router.Use it labels requests by route template, so
// upload IDs never become label values.
func Metrics(cfg MetricsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasAnyPrefix(r.URL.Path, cfg.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath keeps the first three segments of an unrouted path.
func normalizePath(path string) string {
	parts := strings.SplitN(path, "/", 5)
	if len(parts) < 5 {
		return path
	}
	return strings.Join(parts[:4], "/") + "/{path}"
}
