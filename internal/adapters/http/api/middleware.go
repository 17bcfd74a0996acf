package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/stravasync/pkg/metrics"
)

// failureClass buckets an HTTP error status into the labels used by the
// error metrics. Severity is "high" only when the fault is ours.
type failureClass struct {
	kind     string
	severity string
}

func classifyStatus(code int) failureClass {
	switch {
	case code == http.StatusServiceUnavailable:
		return failureClass{kind: "unavailable", severity: "high"}
	case code >= http.StatusInternalServerError:
		return failureClass{kind: "server_error", severity: "high"}
	case code == http.StatusRequestEntityTooLarge:
		return failureClass{kind: "body_too_large", severity: "medium"}
	case code == http.StatusNotFound:
		return failureClass{kind: "not_found", severity: "low"}
	case code == http.StatusMethodNotAllowed:
		return failureClass{kind: "method_not_allowed", severity: "low"}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return failureClass{kind: "auth", severity: "medium"}
	default:
		return failureClass{kind: "bad_request", severity: "medium"}
	}
}

// MetricsMiddleware records request count, latency and error class for the
// named endpoint.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		began := time.Now()
		next(rec, r)
		elapsed := float64(time.Since(began).Milliseconds())

		code := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, elapsed)
		if rec.status < http.StatusBadRequest {
			return
		}
		fc := classifyStatus(rec.status)
		metrics.RecordErrorByEndpoint(endpoint, r.Method, fc.kind)
		metrics.RecordErrorByType(fc.kind, fc.severity)
		metrics.RecordErrorLatency("http", fc.kind, elapsed)
	}
}

// SecurityHeaders sets conservative response headers on every reply.
func SecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next(w, r)
	}
}

// statusRecorder remembers the first status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	n, err := sr.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
