package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/basket/gotodo/internal/config"
	"github.com/basket/gotodo/internal/cron"
	"github.com/basket/gotodo/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkDatabase,
		checkPermissions,
		checkInbox,
		checkBackup,
		checkBindAddr,
		checkTelemetry,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if cfg.FileMissing {
		return CheckResult{
			Name:    "Config",
			Status:  StatusWarn,
			Message: "config.yaml missing, using defaults",
			Detail:  config.ConfigPath(cfg.HomeDir),
		}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir))}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}

	store, err := persistence.Open(cfg.DBPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err), Detail: cfg.DBPath}
	}
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Schema query failed: %v", err)}
	}
	counts, err := store.TaskCounts(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}

	return CheckResult{
		Name:    "Database",
		Status:  StatusPass,
		Message: fmt.Sprintf("Schema v%d, %d tasks (%d pending)", version, counts.Total, counts.Pending),
		Detail:  cfg.DBPath,
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	if err := probeWritable(cfg.HomeDir); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

func checkInbox(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Import.InboxDir == "" {
		return CheckResult{Name: "Import Inbox", Status: StatusSkip, Message: "Inbox not configured"}
	}
	dir := cfg.Import.InboxDir
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return CheckResult{Name: "Import Inbox", Status: StatusWarn, Message: "Inbox directory does not exist yet", Detail: dir}
	}
	if err != nil {
		return CheckResult{Name: "Import Inbox", Status: StatusFail, Message: fmt.Sprintf("Stat failed: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Name: "Import Inbox", Status: StatusFail, Message: "Inbox path is not a directory", Detail: dir}
	}
	if err := probeWritable(dir); err != nil {
		return CheckResult{Name: "Import Inbox", Status: StatusFail, Message: fmt.Sprintf("Inbox unwritable: %v", err)}
	}
	return CheckResult{Name: "Import Inbox", Status: StatusPass, Message: fmt.Sprintf("Watching %s", dir)}
}

func checkBackup(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Backup.Enabled {
		return CheckResult{Name: "Backup Schedule", Status: StatusSkip, Message: "Backups disabled"}
	}
	next, err := cron.NextRunTime(cfg.Backup.Schedule, time.Now())
	if err != nil {
		return CheckResult{Name: "Backup Schedule", Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{
		Name:    "Backup Schedule",
		Status:  StatusPass,
		Message: fmt.Sprintf("Next backup at %s", next.Format(time.RFC3339)),
		Detail:  fmt.Sprintf("dir=%s keep=%d", cfg.Backup.Dir, cfg.Backup.Keep),
	}
}

func checkBindAddr(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bind Address", Status: StatusSkip, Message: "Config missing"}
	}
	if _, _, err := net.SplitHostPort(cfg.BindAddr); err != nil {
		return CheckResult{Name: "Bind Address", Status: StatusFail, Message: fmt.Sprintf("Invalid bind_addr %q: %v", cfg.BindAddr, err)}
	}
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return CheckResult{
				Name:    "Bind Address",
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s already in use", cfg.BindAddr),
				Detail:  "A gotodo daemon may already be running; see gotodo status",
			}
		}
		return CheckResult{Name: "Bind Address", Status: StatusFail, Message: fmt.Sprintf("Listen failed: %v", err)}
	}
	_ = ln.Close()
	return CheckResult{Name: "Bind Address", Status: StatusPass, Message: fmt.Sprintf("%s available", cfg.BindAddr)}
}

func checkTelemetry(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Telemetry.Enabled {
		return CheckResult{Name: "Telemetry", Status: StatusSkip, Message: "Telemetry disabled"}
	}
	t := cfg.Telemetry
	switch t.Exporter {
	case "", "none":
		return CheckResult{Name: "Telemetry", Status: StatusWarn, Message: "Telemetry enabled with no exporter"}
	case "stdout":
		return CheckResult{Name: "Telemetry", Status: StatusPass, Message: "Spans written to stdout"}
	}
	if t.Endpoint == "" {
		return CheckResult{
			Name:    "Telemetry",
			Status:  StatusWarn,
			Message: "otlp-http exporter has no endpoint",
			Detail:  "The exporter falls back to localhost:4318",
		}
	}
	raw := t.Endpoint
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	if u, err := url.Parse(raw); err != nil || u.Host == "" {
		return CheckResult{Name: "Telemetry", Status: StatusFail, Message: fmt.Sprintf("Invalid endpoint %q", t.Endpoint)}
	}
	return CheckResult{
		Name:    "Telemetry",
		Status:  StatusPass,
		Message: fmt.Sprintf("Exporting to %s", t.Endpoint),
		Detail:  fmt.Sprintf("service=%s sample_rate=%.2f", t.ServiceName, t.SampleRate),
	}
}

func probeWritable(dir string) error {
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return err
	}
	return os.Remove(testFile)
}
