package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/gotodo/internal/persistence"
)

func TestRunBackupCommand_WritesSnapshot(t *testing.T) {
	home := setTestConfig(t, "127.0.0.1:0")
	store, err := persistence.Open(filepath.Join(home, "tasks.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.CreateTask(context.Background(), "星期五 下午3节", "星期五 下午3节 体育"); err != nil {
		t.Fatalf("create task: %v", err)
	}
	store.Close()

	dir := filepath.Join(t.TempDir(), "snapshots")
	out, errOut := captureOutput(t)
	if code := runBackupCommand(context.Background(), []string{"-dir", dir}); code != 0 {
		t.Fatalf("got exit code %d, want 0 (stderr %q)", code, errOut.String())
	}

	path := strings.TrimSpace(out.String())
	if filepath.Dir(path) != dir || !strings.HasSuffix(path, ".db") {
		t.Fatalf("unexpected backup path %q", path)
	}
	backup, err := persistence.Open(path, nil)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer backup.Close()
	counts, err := backup.TaskCounts(context.Background())
	if err != nil {
		t.Fatalf("count backup tasks: %v", err)
	}
	if counts.Total != 1 {
		t.Fatalf("expected 1 task in backup, got %+v", counts)
	}
}

func TestRunBackupCommand_DefaultDirUnderHome(t *testing.T) {
	home := setTestConfig(t, "127.0.0.1:0")
	out, _ := captureOutput(t)
	if code := runBackupCommand(context.Background(), nil); code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
	path := strings.TrimSpace(out.String())
	if filepath.Dir(path) != filepath.Join(home, "backups") {
		t.Fatalf("expected backup under home/backups, got %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
}

func TestRunBackupCommand_ExtraArgs(t *testing.T) {
	captureOutput(t)
	if code := runBackupCommand(context.Background(), []string{"now"}); code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}
