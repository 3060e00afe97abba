package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/netvr/pkg/metrics"
)

// Statuses the operator API answers with.
const (
	statusBadRequest    = 400
	statusNotFound      = 404
	statusConflict      = 409
	statusUnprocessable = 422
	statusInternalError = 500
	statusUnavailable   = 503
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		statusCodeStr := strconv.Itoa(wrapped.statusCode)

		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)

		if wrapped.statusCode >= statusBadRequest {
			metrics.RecordHTTPError(endpoint, r.Method, getErrorType(wrapped.statusCode), getErrorSeverity(wrapped.statusCode))
		}
	}
}

// getErrorType labels a failed request for the http_errors_total metric.
// 409 means a calibration session is already running and 422 means the
// samples could not produce a transform.
func getErrorType(statusCode int) string {
	switch statusCode {
	case statusBadRequest:
		return "bad_request"
	case statusNotFound:
		return "not_found"
	case statusConflict:
		return "calibration_busy"
	case statusUnprocessable:
		return "calibration_failed"
	case statusUnavailable:
		return "unavailable"
	}
	switch {
	case statusCode >= statusInternalError:
		return "server_error"
	case statusCode >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// getErrorSeverity ranks a failure. Busy coordinators and rejected sample
// sets are expected during operation.
func getErrorSeverity(statusCode int) string {
	switch {
	case statusCode == statusUnavailable:
		return "medium"
	case statusCode >= statusInternalError:
		return "high"
	case statusCode == statusConflict, statusCode == statusUnprocessable:
		return "low"
	case statusCode >= statusBadRequest:
		return "medium"
	default:
		return "low"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
