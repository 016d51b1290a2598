// Package cron runs database backups on a cron schedule.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/gotodo/internal/audit"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

const (
	backupPrefix     = "tasks-"
	backupSuffix     = ".db"
	backupTimeLayout = "20060102T150405.000Z"
)

// Backuper writes a consistent database copy. *persistence.Store implements it.
type Backuper interface {
	Backup(ctx context.Context, destPath string) error
}

// Recorder receives backup outcomes. *otel.Metrics implements it.
type Recorder interface {
	RecordBackup(ctx context.Context, err error)
}

// Config holds the dependencies for the backup scheduler.
type Config struct {
	Store    Backuper
	Logger   *slog.Logger
	Metrics  Recorder
	Schedule string
	Dir      string
	// Keep is the number of newest backups retained after each run. 0 keeps all.
	Keep int
	// Interval is how often the schedule is checked; defaults to 30s.
	Interval time.Duration
	Now      func() time.Time
}

// Scheduler checks the cron schedule every interval and writes a backup
// when it is due.
type Scheduler struct {
	store    Backuper
	logger   *slog.Logger
	metrics  Recorder
	schedule cronlib.Schedule
	expr     string
	dir      string
	keep     int
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	next   time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates the schedule and creates a Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("backup scheduler: store required")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("backup scheduler: dir required")
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("backup schedule %q: %w", cfg.Schedule, err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:    cfg.Store,
		logger:   logger.With("component", "backup"),
		metrics:  cfg.Metrics,
		schedule: sched,
		expr:     cfg.Schedule,
		dir:      cfg.Dir,
		keep:     cfg.Keep,
		interval: interval,
		now:      now,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.next = s.schedule.Next(s.now())
	next := s.next
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("backup scheduler started", "schedule", s.expr, "next_run_at", next, "dir", s.dir)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("backup scheduler stopped")
}

// NextRun returns the next time a backup is due.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := !now.Before(s.next)
	if due {
		s.next = s.schedule.Next(now)
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("backup: scheduled run failed", "error", err)
	}
}

// RunNow writes a backup immediately, prunes old ones and returns the
// new file's path.
func (s *Scheduler) RunNow(ctx context.Context) (string, error) {
	dest := filepath.Join(s.dir, backupPrefix+s.now().UTC().Format(backupTimeLayout)+backupSuffix)
	err := s.store.Backup(ctx, dest)
	if s.metrics != nil {
		s.metrics.RecordBackup(ctx, err)
	}
	if err != nil {
		audit.Record(ctx, "data.backup", audit.OutcomeFailed, dest, err.Error())
		return "", err
	}
	audit.Record(ctx, "data.backup", audit.OutcomeOK, dest, "")

	removed, err := Prune(s.dir, s.keep)
	if err != nil {
		s.logger.Warn("backup: prune failed", "dir", s.dir, "error", err)
	}
	s.logger.Info("backup: written", "path", dest, "pruned", len(removed))
	return dest, nil
}

// Prune deletes all but the keep newest backup files in dir and returns
// the removed paths. keep <= 0 removes nothing.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= keep {
		return nil, nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	var removed []string
	for _, name := range names[:len(names)-keep] {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
