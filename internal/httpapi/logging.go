package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medcare/token-service/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	userIDHeader    = "X-User-ID"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack keep the SockJS streaming and websocket transports
// working behind the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LoggingMiddleware assigns a request ID, logs each request and records it in
// the HTTP metrics.
func LoggingMiddleware(logger *zap.Logger, m *metrics.HTTPMetrics, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(requestIDHeader, requestID)
		}
		w.Header().Set(requestIDHeader, requestID)

		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)

		route := routeLabel(r.URL.Path)
		m.ObserveRequest(r.Method, route, strconv.Itoa(writer.status), duration.Seconds())
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_id", r.Header.Get(userIDHeader)),
			zap.String("request_id", requestID),
		)
	})
}

// routeLabel collapses identifiers in the path so metrics keep a bounded set
// of label values.
func routeLabel(path string) string {
	for _, prefix := range []string{"/api/appointments/", "/api/clinics/", "/api/doctors/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		parts := pathParts(path, prefix)
		if len(parts) == 0 {
			return prefix
		}
		parts[0] = "{id}"
		return prefix + strings.Join(parts, "/")
	}
	if strings.HasPrefix(path, "/realtime/") {
		return "/realtime"
	}
	return path
}
