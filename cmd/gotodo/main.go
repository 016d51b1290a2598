package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/gotodo/internal/audit"
	"github.com/basket/gotodo/internal/bus"
	"github.com/basket/gotodo/internal/config"
	"github.com/basket/gotodo/internal/cron"
	"github.com/basket/gotodo/internal/gateway"
	otelPkg "github.com/basket/gotodo/internal/otel"
	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/schedule"
	"github.com/basket/gotodo/internal/tasks"
	"github.com/basket/gotodo/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %[1]s:

SERVER (default):
  %[1]s                          Start the task server
  %[1]s serve                    Same as above

SUBCOMMANDS:
  %[1]s import -file <xlsx>      Import a timetable workbook into the local database
                              Flags: -header-rows N, -json
  %[1]s list [-day D] [-status S] List tasks (D: weekday label or "today",
                              S: pending or completed), -json for raw output
  %[1]s backup [-dir DIR]        Write a database backup now and prune old ones
  %[1]s status                   Show server health status (/healthz)
  %[1]s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  GOTODO_HOME             Data directory (default: ~/.gotodo)
  GOTODO_BIND_ADDR        Listen address (default: 127.0.0.1:5000)
  GOTODO_LOG_LEVEL        debug, info, warn or error

EXAMPLES:
  Start the server:       %[1]s
  Import a timetable:     %[1]s import -file schedule.xlsx
  Today's pending tasks:  %[1]s list -day today
  Run diagnostics:        %[1]s doctor
`, os.Args[0])
}

func main() {
	quiet := flag.Bool("quiet", false, "log to file only")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "serve":
		case "import":
			os.Exit(runImportCommand(ctx, args[1:]))
		case "list":
			os.Exit(runListCommand(ctx, args[1:]))
		case "backup":
			os.Exit(runBackupCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	serve(ctx, *quiet)
}

func serve(ctx context.Context, quietLogs bool) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit first so logger failures are audited too.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, logHandle, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer logHandle.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "config_missing", cfg.FileMissing)
	warnOpenBind(logger, cfg)

	otelProvider, err := otelPkg.Init(ctx, otelPkg.FromConfig(cfg.Telemetry))
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	eventBus := bus.New()
	store, err := persistence.Open(cfg.DBPath, eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated", "db_path", cfg.DBPath)

	taskService := tasks.NewService(tasks.Config{Store: store, Logger: logger})
	importer := schedule.NewImporter(schedule.Config{
		Store:      store,
		Logger:     logger,
		Bus:        eventBus,
		Metrics:    metrics,
		HeaderRows: cfg.Import.HeaderRows,
	})

	if cfg.Import.InboxDir != "" {
		inbox := schedule.NewInbox(cfg.Import.InboxDir, importer, logger)
		if err := inbox.Start(ctx); err != nil {
			fatalStartup(logger, "E_INBOX_START", err)
		}
		go logInboxResults(ctx, logger, inbox.Results())
		logger.Info("startup phase", "phase", "inbox_watching", "dir", cfg.Import.InboxDir)
	}

	if cfg.Backup.Enabled {
		backups, err := cron.NewScheduler(cron.Config{
			Store:    store,
			Logger:   logger,
			Metrics:  metrics,
			Schedule: cfg.Backup.Schedule,
			Dir:      cfg.Backup.Dir,
			Keep:     cfg.Backup.Keep,
		})
		if err != nil {
			fatalStartup(logger, "E_BACKUP_SCHEDULE", err)
		}
		backups.Start(ctx)
		defer backups.Stop()
	}

	gw := gateway.New(gateway.Config{
		Tasks:             taskService,
		Store:             store,
		Importer:          importer,
		Bus:               eventBus,
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            otelProvider.Tracer,
		ConfigFingerprint: cfg.Fingerprint(),
		CORS:              cfg.CORS,
		RateLimit:         cfg.RateLimit,
		MaxRequestBytes:   cfg.MaxRequestBytes(),
		MaxUploadBytes:    cfg.MaxUploadBytes(),
	})
	gw.RateLimiter().StartEviction(ctx, time.Minute)

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		current := cfg
		for ev := range confWatcher.Events() {
			logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
			next, err := config.Load()
			if err != nil {
				logger.Error("config.yaml reload rejected; retaining previous config", "error", err)
				continue
			}
			applyReload(logger, logHandle, gw, current, next)
			current = next
		}
	}()

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", ln.Addr().String(), "ws", "/ws")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("startup phase", "phase", "ready", "version", Version)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Stop intake, then let in-flight requests finish within the drain window.
	drainTimeout := time.Duration(cfg.DrainTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("drain timeout exceeded; closing remaining connections", "error", err)
		_ = server.Close()
	}
	logger.Info("shutdown complete")
}

// applyReload applies the parts of a reloaded config that can change at
// runtime. Everything else needs a restart.
func applyReload(logger *slog.Logger, logHandle *telemetry.Handle, gw *gateway.Server, prev, next config.Config) {
	if next.LogLevel != prev.LogLevel {
		lvl := logHandle.SetLevel(next.LogLevel)
		logger.Info("log level hot-reloaded", "level", lvl.String())
	}
	if !equalStrings(next.CORS.AllowedOrigins, prev.CORS.AllowedOrigins) {
		gw.SetAllowedOrigins(next.CORS.AllowedOrigins)
	}
	if restart := restartRequired(prev, next); len(restart) > 0 {
		logger.Warn("config change requires restart", "fields", restart)
	}
}

func restartRequired(prev, next config.Config) []string {
	var fields []string
	if prev.BindAddr != next.BindAddr {
		fields = append(fields, "bind_addr")
	}
	if prev.DBPath != next.DBPath {
		fields = append(fields, "db_path")
	}
	if prev.Import.InboxDir != next.Import.InboxDir {
		fields = append(fields, "import.inbox_dir")
	}
	if prev.Backup != next.Backup {
		fields = append(fields, "backup")
	}
	if prev.Telemetry != next.Telemetry {
		fields = append(fields, "telemetry")
	}
	if prev.RateLimit != next.RateLimit {
		fields = append(fields, "rate_limit")
	}
	return fields
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func logInboxResults(ctx context.Context, logger *slog.Logger, results <-chan schedule.InboxResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			name := filepath.Base(res.Path)
			if res.Err != nil {
				logger.Warn("inbox import rejected", "file", name, "error", res.Err)
				continue
			}
			logger.Info("inbox import finished",
				"file", name,
				"batch_id", res.Result.BatchID,
				"inserted", res.Result.Inserted,
				"skipped", res.Result.Skipped,
				"failed", res.Result.Failed,
			)
		}
	}
}

func warnOpenBind(logger *slog.Logger, cfg config.Config) {
	host, _, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return
	}
	h := strings.TrimSpace(strings.ToLower(host))
	loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
	if loopback || !cfg.CORS.Enabled {
		return
	}
	for _, o := range cfg.CORS.AllowedOrigins {
		if o == "*" {
			logger.Warn("wildcard CORS origin on non-loopback bind; any site can call the API", "bind_addr", cfg.BindAddr)
			return
		}
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(context.Background(), "runtime.startup", audit.OutcomeFatal, reasonCode, message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	return fmt.Sprintf("Port %s is already in use. Run `gotodo status` to check for a running server, or change bind_addr in config.yaml.", port)
}
