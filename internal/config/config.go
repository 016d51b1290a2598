package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig bounds schedule uploads per client address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

type ImportConfig struct {
	// HeaderRows is the number of banner rows above the timetable grid.
	HeaderRows int `yaml:"header_rows"`
	// InboxDir, when set, is watched for dropped workbooks.
	InboxDir    string `yaml:"inbox_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type BackupConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a five-field cron expression.
	Schedule string `yaml:"schedule"`
	Dir      string `yaml:"dir"`
	// Keep is how many backup files survive pruning. 0 keeps all.
	Keep int `yaml:"keep"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`
	// DBPath defaults to tasks.db in the home directory.
	DBPath string `yaml:"db_path"`

	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
	MaxRequestKB        int `yaml:"max_request_kb"`

	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Import    ImportConfig    `yaml:"import"`
	Backup    BackupConfig    `yaml:"backup"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// FileMissing is set when config.yaml did not exist and defaults were used.
	FileMissing bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|origins=%v|header_rows=%d|inbox=%s|backup=%t:%s|rl=%t:%d:%d",
		c.BindAddr, c.LogLevel, c.DBPath, c.CORS.AllowedOrigins, c.Import.HeaderRows, c.Import.InboxDir,
		c.Backup.Enabled, c.Backup.Schedule, c.RateLimit.Enabled, c.RateLimit.RequestsPerMinute, c.RateLimit.BurstSize)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// MaxUploadBytes is the body cap for schedule uploads.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Import.MaxUploadMB) << 20
}

// MaxRequestBytes is the body cap for JSON requests.
func (c Config) MaxRequestBytes() int64 {
	return int64(c.MaxRequestKB) << 10
}

func defaultConfig() Config {
	return Config{
		BindAddr:            "127.0.0.1:5000",
		LogLevel:            "info",
		ReadTimeoutSeconds:  30,
		WriteTimeoutSeconds: 60,
		DrainTimeoutSeconds: 5,
		MaxRequestKB:        64,
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         3600,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			BurstSize:         5,
		},
		Import: ImportConfig{
			HeaderRows:  2,
			MaxUploadMB: 10,
		},
		Backup: BackupConfig{
			Schedule: "0 3 * * *",
			Keep:     7,
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "gotodo",
			SampleRate:  1.0,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("GOTODO_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".gotodo")
}

// Load resolves defaults, then config.yaml, then GOTODO_* environment
// overrides.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create gotodo home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.FileMissing = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:5000"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "tasks.db")
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		cfg.ReadTimeoutSeconds = 30
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		cfg.WriteTimeoutSeconds = 60
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.MaxRequestKB <= 0 {
		cfg.MaxRequestKB = 64
	}
	if cfg.Import.HeaderRows < 0 {
		cfg.Import.HeaderRows = 0
	}
	if cfg.Import.MaxUploadMB <= 0 {
		cfg.Import.MaxUploadMB = 10
	}
	if cfg.Import.InboxDir != "" && !filepath.IsAbs(cfg.Import.InboxDir) {
		cfg.Import.InboxDir = filepath.Join(cfg.HomeDir, cfg.Import.InboxDir)
	}
	if strings.TrimSpace(cfg.Backup.Schedule) == "" {
		cfg.Backup.Schedule = "0 3 * * *"
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.HomeDir, "backups")
	}
	if cfg.Backup.Keep < 0 {
		cfg.Backup.Keep = 0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "gotodo"
	}

	origins := cfg.CORS.AllowedOrigins[:0]
	for _, o := range cfg.CORS.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	cfg.CORS.AllowedOrigins = origins
}

func validate(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q: want debug, info, warn or error", cfg.LogLevel)
	}
	switch cfg.Telemetry.Exporter {
	case "", "none", "stdout", "otlp-http":
	default:
		return fmt.Errorf("telemetry.exporter %q: want none, stdout or otlp-http", cfg.Telemetry.Exporter)
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	envInt := func(name string, dst *int) error {
		raw := os.Getenv(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
		return nil
	}
	envBool := func(name string, dst *bool) error {
		raw := os.Getenv(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
		return nil
	}

	if raw := os.Getenv("GOTODO_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("GOTODO_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("GOTODO_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("GOTODO_CORS_ORIGINS"); raw != "" {
		cfg.CORS.AllowedOrigins = strings.Split(raw, ",")
	}
	if raw := os.Getenv("GOTODO_IMPORT_INBOX_DIR"); raw != "" {
		cfg.Import.InboxDir = raw
	}
	if raw := os.Getenv("GOTODO_BACKUP_SCHEDULE"); raw != "" {
		cfg.Backup.Schedule = raw
	}
	if raw := os.Getenv("GOTODO_TELEMETRY_EXPORTER"); raw != "" {
		cfg.Telemetry.Exporter = raw
	}
	if raw := os.Getenv("GOTODO_TELEMETRY_ENDPOINT"); raw != "" {
		cfg.Telemetry.Endpoint = raw
	}

	for name, dst := range map[string]*int{
		"GOTODO_READ_TIMEOUT_SECONDS":  &cfg.ReadTimeoutSeconds,
		"GOTODO_WRITE_TIMEOUT_SECONDS": &cfg.WriteTimeoutSeconds,
		"GOTODO_IMPORT_HEADER_ROWS":    &cfg.Import.HeaderRows,
		"GOTODO_IMPORT_MAX_UPLOAD_MB":  &cfg.Import.MaxUploadMB,
	} {
		if err := envInt(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*bool{
		"GOTODO_CORS_ENABLED":       &cfg.CORS.Enabled,
		"GOTODO_RATE_LIMIT_ENABLED": &cfg.RateLimit.Enabled,
		"GOTODO_BACKUP_ENABLED":     &cfg.Backup.Enabled,
		"GOTODO_TELEMETRY_ENABLED":  &cfg.Telemetry.Enabled,
	} {
		if err := envBool(name, dst); err != nil {
			return err
		}
	}
	return nil
}
