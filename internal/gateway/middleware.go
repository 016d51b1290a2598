package gateway

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/basket/gotodo/internal/otel"
	"github.com/basket/gotodo/internal/shared"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets /ws upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if !r.wroteHeader {
		r.status = http.StatusSwitchingProtocols
		r.wroteHeader = true
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument assigns a trace id, opens a server span, and logs and records
// every request once it finishes.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if traceID == "" || len(traceID) > 64 {
			traceID = shared.NewTraceID()
		}
		route := routeLabel(r.URL.Path)

		ctx := shared.WithTraceID(r.Context(), traceID)
		ctx, span := otel.StartServerSpan(ctx, s.tracer, r.Method+" "+route, otel.AttrRoute.String(route))
		defer span.End()

		w.Header().Set(requestIDHeader, traceID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		span.SetAttributes(otel.AttrStatus.Int(rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		s.cfg.Metrics.RecordRequest(ctx, route, rec.status, elapsed)

		level := s.logger.Info
		if route == "/healthz" || strings.HasPrefix(route, "/metrics") {
			level = s.logger.Debug
		}
		level("http request",
			"trace_id", traceID,
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"remote", clientKey(r),
		)
	})
}

// routeLabel collapses task ids so span names and metric labels stay bounded.
func routeLabel(path string) string {
	if !strings.HasPrefix(path, routeTaskByID) {
		switch path {
		case routeTasks, routeImportSchedule, "/healthz", "/metrics", "/metrics/prometheus", "/ws":
			return path
		}
		return "other"
	}
	rest := strings.TrimPrefix(path, routeTaskByID)
	if _, action, ok := strings.Cut(rest, "/"); ok && action == "complete" {
		return "/api/tasks/{id}/complete"
	}
	return "/api/tasks/{id}"
}
