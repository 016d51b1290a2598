package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/gotodo/internal/cron"
	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/weekday"
)

const drillTasks = 42

func main() {
	baseDir, err := os.MkdirTemp("", "gotodo-backup-drill-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(baseDir)

	if err := drill(context.Background(), baseDir, os.Stdout); err != nil {
		fmt.Println(err)
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}

// drill fills a store, backs it up through the scheduler, restores the
// newest copy and checks that counts and weekday tags survived.
func drill(ctx context.Context, baseDir string, out io.Writer) error {
	store, err := persistence.Open(filepath.Join(baseDir, "tasks.db"), nil)
	if err != nil {
		return fmt.Errorf("open_store_error=%v", err)
	}
	defer store.Close()

	days := weekday.All()
	for i := 0; i < drillTasks; i++ {
		day := days[i%len(days)]
		label := fmt.Sprintf("%s 上午%d节", day, i%4+1)
		task, err := store.CreateTask(ctx, label, fmt.Sprintf("%s backup-%d", label, i))
		if err != nil {
			return fmt.Errorf("create_task_error=%v", err)
		}
		if i%2 == 0 {
			if _, err := store.CompleteTask(ctx, task.ID); err != nil {
				return fmt.Errorf("complete_task_error=%v", err)
			}
		}
	}
	want, err := store.TaskCounts(ctx)
	if err != nil {
		return fmt.Errorf("count_source_error=%v", err)
	}

	sched, err := cron.NewScheduler(cron.Config{
		Store:    store,
		Schedule: "0 3 * * *",
		Dir:      filepath.Join(baseDir, "backups"),
		Keep:     1,
	})
	if err != nil {
		return fmt.Errorf("scheduler_error=%v", err)
	}
	backupStart := time.Now().UTC()
	backupPath, err := sched.RunNow(ctx)
	if err != nil {
		return fmt.Errorf("backup_error=%v", err)
	}
	backupEnd := time.Now().UTC()

	restorePath := filepath.Join(baseDir, "restore.db")
	raw, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read_backup_error=%v", err)
	}
	if err := os.WriteFile(restorePath, raw, 0o644); err != nil {
		return fmt.Errorf("write_restore_error=%v", err)
	}
	restoreStart := time.Now().UTC()
	restored, err := persistence.Open(restorePath, nil)
	if err != nil {
		return fmt.Errorf("open_restore_error=%v", err)
	}
	defer restored.Close()
	restoreEnd := time.Now().UTC()

	got, err := restored.TaskCounts(ctx)
	if err != nil {
		return fmt.Errorf("count_restore_error=%v", err)
	}
	var untagged int
	if err := restored.DB().QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE weekday IS NULL;`).Scan(&untagged); err != nil {
		return fmt.Errorf("count_untagged_error=%v", err)
	}
	version, err := restored.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("schema_version_error=%v", err)
	}

	fmt.Fprintf(out, "backup_path=%s\n", backupPath)
	fmt.Fprintf(out, "backup_duration=%s\n", backupEnd.Sub(backupStart))
	fmt.Fprintf(out, "restore_duration=%s\n", restoreEnd.Sub(restoreStart))
	fmt.Fprintf(out, "schema_version=%d\n", version)
	fmt.Fprintf(out, "restored_tasks=%d/%d\n", got.Total, want.Total)
	fmt.Fprintf(out, "restored_completed=%d/%d\n", got.Completed, want.Completed)
	fmt.Fprintf(out, "restored_untagged=%d\n", untagged)

	if got != want || got.Total != drillTasks || untagged != 0 {
		return fmt.Errorf("restore_mismatch got=%+v want=%+v untagged=%d", got, want, untagged)
	}
	return nil
}
