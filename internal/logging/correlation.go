package logging

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"
)

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return "cor_" + uuid.NewString()
}

// GenerateRequestID generates a new request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// CorrelationIDMiddleware tags each request with correlation and request IDs.
func CorrelationIDMiddleware(logger *Logger, service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := SanitizeCorrelationID(r.Header.Get(CorrelationIDHeader))
			if correlationID == "" {
				correlationID = GenerateCorrelationID()
			}
			requestID := SanitizeCorrelationID(r.Header.Get(RequestIDHeader))
			if requestID == "" {
				requestID = GenerateRequestID()
			}

			ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
			ctx = context.WithValue(ctx, RequestIDKey, requestID)
			ctx = context.WithValue(ctx, ServiceKey, service)

			w.Header().Set(CorrelationIDHeader, correlationID)
			w.Header().Set(RequestIDHeader, requestID)

			r = r.WithContext(ctx)
			logger.RequestStart(ctx, r.Method, r.URL.Path, r.UserAgent())
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs HTTP requests and responses
func LoggingMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.RequestEnd(r.Context(), r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), wrapped.size)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture response details
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += int64(size)
	return size, err
}

// ExtractCorrelationID extracts correlation ID from context
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// PropagateCorrelationID copies the correlation ID onto an outgoing request.
func PropagateCorrelationID(ctx context.Context, req *http.Request) {
	if correlationID := ExtractCorrelationID(ctx); correlationID != "" {
		req.Header.Set(CorrelationIDHeader, correlationID)
	}
}

// SanitizeCorrelationID strips log-injection characters and caps the length.
func SanitizeCorrelationID(id string) string {
	id = strings.NewReplacer("\n", "", "\r", "", "\t", "").Replace(id)
	if len(id) > 64 {
		id = id[:64]
	}
	return id
}
