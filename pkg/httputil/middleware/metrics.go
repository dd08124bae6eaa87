package middleware

import (
	"net/http"
	"time"

	"github.com/edgeflare/pgcrud/pkg/metrics"
)

// Metrics records request count and latency labelled by the matched route
// pattern rather than the raw path.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" || route == "/" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(r.Method, route, rec.StatusCode, time.Since(start))
	})
}
