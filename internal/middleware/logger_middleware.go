package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"locatr/internal/metrics"
	"locatr/pkg/log"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func LoggerMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	logger = logger.WithName("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Observe(elapsed.Seconds())

			kv := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", rw.statusCode,
				"duration", elapsed,
			}
			if rw.statusCode >= http.StatusInternalServerError {
				logger.Warn("Request failed", kv...)
				return
			}
			logger.Debug("Request served", kv...)
		})
	}
}
