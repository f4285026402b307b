package telemetry

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/industrial-rfp/workflow-core/core"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// LoggingMiddleware, the way the teacher's core.responseWriter does.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// RecoveryMiddleware recovers panics in the wrapped handler, logs the stack
// trace, and answers with a 500 instead of leaving net/http to abort the
// connection without a response.
func RecoveryMiddleware(logger core.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if logger != nil {
						logger.Error("http handler panic recovered", map[string]interface{}{
							"panic":      err,
							"error_type": fmt.Sprintf("%T", err),
							"path":       r.URL.Path,
							"method":     r.Method,
							"stack":      string(debug.Stack()),
						})
					}
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs HTTP requests and responses, mirroring the
// teacher's core.LoggingMiddleware: every 4xx/5xx response and every
// request slower than a second, plus everything when devMode is set.
func LoggingMiddleware(logger core.Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			shouldLog := devMode || wrapped.statusCode >= 400 || duration > time.Second
			if !shouldLog || logger == nil {
				return
			}

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.ErrorWithContext(r.Context(), "http request error", fields)
			case wrapped.statusCode >= 400:
				logger.WarnWithContext(r.Context(), "http request client error", fields)
			case duration > time.Second:
				logger.WarnWithContext(r.Context(), "http request slow", fields)
			default:
				logger.InfoWithContext(r.Context(), "http request", fields)
			}
		})
	}
}

// TracingMiddleware wraps the handler with otelhttp instrumentation,
// extracting W3C trace context from incoming requests and emitting a span
// and HTTP metrics per request. excludedPaths are skipped (health checks).
func TracingMiddleware(serviceName string, excludedPaths ...string) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(excludedPaths))
	for _, p := range excludedPaths {
		excluded[p] = true
	}

	opts := []otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool { return !excluded[r.URL.Path] }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.Path
		}),
	}

	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, opts...)
	}
}
