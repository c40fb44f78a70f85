package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/fpang/media-publisher/internal/metrics"
)

const corsAllowHeaders = "Content-Type, X-API-Token, X-Site-Url, X-Wp-Id, X-FB-Token, X-FB-Access-Token, X-Webhook-Url, X-X-Token"

// withCORS allows any origin and answers preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMetrics emits RequestLatencyMs and RequestCount per endpoint.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		metrics.New(metrics.Namespace).
			Dimension("Endpoint", normalizeEndpoint(r.URL.Path)).
			Since("RequestLatencyMs", start).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Flush()
	})
}

// normalizeEndpoint collapses job ids so metric dimensions stay bounded.
func normalizeEndpoint(path string) string {
	if rest, ok := strings.CutPrefix(path, "/jobs/"); ok && rest != "" {
		return "/jobs/*"
	}
	switch path {
	case "/presign", "/x/jobs", "/jobs", "/media", "/health":
		return path
	}
	return "other"
}
