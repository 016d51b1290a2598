package tasks_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/tasks"
	"github.com/basket/gotodo/internal/weekday"
)

func newTestService(t *testing.T, now time.Time) *tasks.Service {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "tasks.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return tasks.NewService(tasks.Config{
		Store: store,
		Now:   func() time.Time { return now },
	})
}

func ids(list []persistence.Task) map[int64]bool {
	out := make(map[int64]bool, len(list))
	for _, task := range list {
		out[task.ID] = true
	}
	return out
}

func TestService_CreateListCompleteScenario(t *testing.T) {
	svc := newTestService(t, wednesday)
	ctx := context.Background()

	task, err := svc.Create(ctx, "星期三 上午1节", "星期三 上午1节 数据结构")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	q, err := svc.QueryFromRequest("星期三", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	pending, err := svc.List(ctx, q)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if !ids(pending)[task.ID] {
		t.Fatalf("expected task %d in wednesday pending list", task.ID)
	}

	completed, err := svc.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != task.ID || !completed[0].IsCompleted {
		t.Fatalf("expected today's completed list to echo task %d, got %+v", task.ID, completed)
	}

	pending, err = svc.List(ctx, q)
	if err != nil {
		t.Fatalf("list pending after complete: %v", err)
	}
	if ids(pending)[task.ID] {
		t.Fatalf("task %d must leave the pending list once completed", task.ID)
	}
	all, err := svc.List(ctx, tasks.All())
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if !ids(all)[task.ID] {
		t.Fatal("overview must keep completed tasks")
	}
}

func TestService_PendingOnNeverLeaksOtherDays(t *testing.T) {
	svc := newTestService(t, wednesday)
	ctx := context.Background()
	for _, label := range []string{"星期一 上午1节", "星期三 上午2节", "星期四 上午1节", "星期三 下午1节"} {
		if _, err := svc.Create(ctx, label, label+" 课程"); err != nil {
			t.Fatalf("create %s: %v", label, err)
		}
	}
	got, err := svc.List(ctx, tasks.PendingOn(weekday.Wednesday))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 wednesday tasks, got %d", len(got))
	}
	for _, task := range got {
		if task.Weekday != weekday.Wednesday {
			t.Fatalf("unexpected task from another day: %+v", task)
		}
	}
}

func TestService_CompleteOnlyEchoesToday(t *testing.T) {
	svc := newTestService(t, wednesday)
	ctx := context.Background()
	friday, err := svc.Create(ctx, "星期五 上午1节", "星期五 上午1节 物理")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	completed, err := svc.Complete(ctx, friday.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(completed) != 0 {
		t.Fatalf("friday task must not appear in wednesday's completed list, got %+v", completed)
	}
	again, err := svc.Complete(ctx, friday.ID)
	if err != nil {
		t.Fatalf("repeat complete must succeed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("unexpected completed list %+v", again)
	}
}

func TestService_Errors(t *testing.T) {
	svc := newTestService(t, wednesday)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", "x"); !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.Complete(ctx, 99); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on complete, got %v", err)
	}
	if err := svc.Delete(ctx, 99); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	if _, err := svc.List(ctx, tasks.PendingOn(weekday.None)); !errors.Is(err, tasks.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestService_DeleteThenGet(t *testing.T) {
	svc := newTestService(t, wednesday)
	ctx := context.Background()
	task, err := svc.Create(ctx, "星期日 晚上1节", "星期日 晚上1节 自习")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, task.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestService_Today(t *testing.T) {
	svc := newTestService(t, wednesday.AddDate(0, 0, 4))
	if got := svc.Today(); got != weekday.Sunday {
		t.Fatalf("expected Sunday, got %v", got)
	}
}
