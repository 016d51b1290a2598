package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/gotodo/internal/audit"
	"github.com/basket/gotodo/internal/bus"
	"github.com/basket/gotodo/internal/config"
	"github.com/basket/gotodo/internal/otel"
	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/schedule"
	"github.com/basket/gotodo/internal/tasks"
)

const (
	routeTasks          = "/api/tasks"
	routeTaskByID       = "/api/tasks/"
	routeImportSchedule = "/api/import_schedule"

	defaultMaxRequestBytes = 64 * 1024
	defaultMaxUploadBytes  = 10 * 1024 * 1024
)

// TaskCounter reports table totals for health and metrics.
type TaskCounter interface {
	TaskCounts(ctx context.Context) (persistence.TaskCounts, error)
}

type Config struct {
	Tasks    *tasks.Service
	Store    TaskCounter
	Importer *schedule.Importer
	Bus      *bus.Bus
	Logger   *slog.Logger
	Metrics  *otel.Metrics
	Tracer   trace.Tracer

	// ConfigFingerprint is the hash of the active config exposed on /healthz.
	ConfigFingerprint string

	CORS      config.CORSConfig
	RateLimit config.RateLimitConfig

	// MaxRequestBytes bounds JSON bodies, MaxUploadBytes bounds schedule uploads.
	MaxRequestBytes int64
	MaxUploadBytes  int64
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	cors    *CORSPolicy
	limiter *UploadQuota
	started time.Time

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		tracer:  tracer,
		cors:    NewCORSPolicy(cfg.CORS),
		limiter: NewUploadQuota(cfg.RateLimit),
		started: time.Now(),
		clients: map[*client]struct{}{},
	}
	s.limiter.OnReject(func(r *http.Request) {
		cfg.Metrics.RecordRateLimitReject(r.Context(), routeLabel(r.URL.Path))
	})
	return s
}

// RateLimiter exposes the upload limiter so the owner can run eviction.
func (s *Server) RateLimiter() *UploadQuota {
	return s.limiter
}

// SetAllowedOrigins applies a reloaded origin allowlist to CORS and /ws.
func (s *Server) SetAllowedOrigins(origins []string) {
	s.cors.SetAllowedOrigins(origins)
	s.logger.Info("cors origins updated", "origins", origins)
}

func (s *Server) Handler() http.Handler {
	jsonLimit := RequestSizeLimitMiddleware(s.cfg.MaxRequestBytes)
	uploadLimit := RequestSizeLimitMiddleware(s.cfg.MaxUploadBytes)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/prometheus", s.handlePrometheusMetrics)
	mux.HandleFunc("/healthz", s.handleHealthz)
	// REST API endpoints.
	mux.Handle(routeTasks, jsonLimit(http.HandlerFunc(s.handleAPITasks)))
	mux.Handle(routeTaskByID, jsonLimit(http.HandlerFunc(s.handleAPITaskByID)))
	mux.Handle(routeImportSchedule, s.limiter.Wrap(uploadLimit(http.HandlerFunc(s.handleImportSchedule))))

	return s.instrument(s.cors.Wrap(mux))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	counts, err := s.cfg.Store.TaskCounts(r.Context())
	if err != nil {
		dbOK = false
		s.logger.Error("healthz: task counts failed", "error", err)
	}
	payload := map[string]any{
		"healthy":            dbOK,
		"db_ok":              dbOK,
		"config_fingerprint": s.cfg.ConfigFingerprint,
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
		"tasks_total":        counts.Total,
		"ws_clients":         s.clientCount(),
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.Store.TaskCounts(r.Context())
	if err != nil {
		s.logger.Error("metrics: task counts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":           counts,
		"totals":          s.cfg.Metrics.Totals(),
		"audit_failures":  audit.FailureCount(),
		"ws_clients":      s.clientCount(),
		"bus_subscribers": s.cfg.Bus.SubscriberCount(),
		"alloc_bytes":     mem.Alloc,
	})
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.Store.TaskCounts(r.Context())
	if err != nil {
		s.logger.Error("metrics: task counts failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	totals := s.cfg.Metrics.Totals()
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprintf(w, "# HELP gotodo_tasks Number of stored tasks by completion state.\n")
	fmt.Fprintf(w, "# TYPE gotodo_tasks gauge\n")
	fmt.Fprintf(w, "gotodo_tasks{state=\"pending\"} %d\n", counts.Pending)
	fmt.Fprintf(w, "gotodo_tasks{state=\"completed\"} %d\n", counts.Completed)
	fmt.Fprintf(w, "# HELP gotodo_http_requests_total Total HTTP requests served.\n")
	fmt.Fprintf(w, "# TYPE gotodo_http_requests_total counter\n")
	fmt.Fprintf(w, "gotodo_http_requests_total %d\n", totals.Requests)
	fmt.Fprintf(w, "# HELP gotodo_import_runs_total Total schedule imports finished.\n")
	fmt.Fprintf(w, "# TYPE gotodo_import_runs_total counter\n")
	fmt.Fprintf(w, "gotodo_import_runs_total %d\n", totals.ImportRuns)
	fmt.Fprintf(w, "# HELP gotodo_import_cells_total Schedule cells processed by outcome.\n")
	fmt.Fprintf(w, "# TYPE gotodo_import_cells_total counter\n")
	fmt.Fprintf(w, "gotodo_import_cells_total{outcome=\"inserted\"} %d\n", totals.ImportInserted)
	fmt.Fprintf(w, "gotodo_import_cells_total{outcome=\"skipped\"} %d\n", totals.ImportSkipped)
	fmt.Fprintf(w, "gotodo_import_cells_total{outcome=\"failed\"} %d\n", totals.ImportFailed)
	fmt.Fprintf(w, "# HELP gotodo_rate_limit_rejects_total Requests rejected by the upload rate limiter.\n")
	fmt.Fprintf(w, "# TYPE gotodo_rate_limit_rejects_total counter\n")
	fmt.Fprintf(w, "gotodo_rate_limit_rejects_total %d\n", totals.RateLimitRejects)
	fmt.Fprintf(w, "# HELP gotodo_backups_total Database backups by outcome.\n")
	fmt.Fprintf(w, "# TYPE gotodo_backups_total counter\n")
	fmt.Fprintf(w, "gotodo_backups_total{outcome=\"ok\"} %d\n", totals.BackupsOK)
	fmt.Fprintf(w, "gotodo_backups_total{outcome=\"failed\"} %d\n", totals.BackupsFailed)
	fmt.Fprintf(w, "# HELP gotodo_audit_failures_total Audit records that could not be written.\n")
	fmt.Fprintf(w, "# TYPE gotodo_audit_failures_total counter\n")
	fmt.Fprintf(w, "gotodo_audit_failures_total %d\n", audit.FailureCount())
	fmt.Fprintf(w, "# HELP gotodo_ws_clients Connected websocket clients.\n")
	fmt.Fprintf(w, "# TYPE gotodo_ws_clients gauge\n")
	fmt.Fprintf(w, "gotodo_ws_clients %d\n", s.clientCount())
	fmt.Fprintf(w, "# HELP gotodo_alloc_bytes Current allocated memory in bytes.\n")
	fmt.Fprintf(w, "# TYPE gotodo_alloc_bytes gauge\n")
	fmt.Fprintf(w, "gotodo_alloc_bytes %d\n", mem.Alloc)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
