package middleware

import (
	"net/http"
	"time"

	"overlaycore/src/metrics"
)

// APILatencyMiddleware measures request duration and records it for the
// /debug/latency percentile introspection endpoint.
func APILatencyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			metrics.RecordAPILatency(time.Since(start))
		})
	}
}
