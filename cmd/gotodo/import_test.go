package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/basket/gotodo/internal/schedule"
)

// writeWorkbook saves a two-banner-row timetable with four course cells.
func writeWorkbook(t *testing.T, dir string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"2026 秋季学期课表"},
		{"时间", "节次", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六", "星期日"},
		{"上午", 1, "高等数学", nil, "数据结构"},
		{nil, 2, nil, "线性代数", nil, nil, nil, nil, "自习"},
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.MergeCell(sheet, "A3", "A4"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	path := filepath.Join(dir, "schedule.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func TestRunImportCommand_ImportsThenSkips(t *testing.T) {
	home := setTestConfig(t, "127.0.0.1:0")
	path := writeWorkbook(t, t.TempDir())
	out, errOut := captureOutput(t)

	if code := runImportCommand(context.Background(), []string{"-file", path}); code != 0 {
		t.Fatalf("got exit code %d, want 0 (stderr %q)", code, errOut.String())
	}
	if !strings.Contains(out.String(), "inserted: 4") {
		t.Fatalf("expected 4 inserted, got:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(home, "tasks.db")); err != nil {
		t.Fatalf("expected database in GOTODO_HOME: %v", err)
	}

	out.Reset()
	if code := runImportCommand(context.Background(), []string{"-json", path}); code != 0 {
		t.Fatalf("second import: got exit code %d, want 0", code)
	}
	var res schedule.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out.String())
	}
	if res.Inserted != 0 || res.Skipped != 4 || res.BatchID == "" {
		t.Fatalf("expected a re-import to skip every cell, got %+v", res)
	}
}

func TestRunImportCommand_Usage(t *testing.T) {
	setTestConfig(t, "127.0.0.1:0")
	_, errOut := captureOutput(t)

	if code := runImportCommand(context.Background(), nil); code != 2 {
		t.Fatalf("no file: got exit code %d, want 2", code)
	}
	if code := runImportCommand(context.Background(), []string{"-file", "schedule.csv"}); code != 2 {
		t.Fatalf("wrong extension: got exit code %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "unsupported") {
		t.Fatalf("expected unsupported-format message, got %q", errOut.String())
	}
	if code := runImportCommand(context.Background(), []string{"-file", filepath.Join(t.TempDir(), "missing.xlsx")}); code != 1 {
		t.Fatalf("missing file: got exit code %d, want 1", code)
	}
}

func TestRunImportCommand_Unreadable(t *testing.T) {
	setTestConfig(t, "127.0.0.1:0")
	_, errOut := captureOutput(t)
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	if err := os.WriteFile(path, []byte("not a zip archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code := runImportCommand(context.Background(), []string{"-file", path}); code != 1 {
		t.Fatalf("got exit code %d, want 1 (stderr %q)", code, errOut.String())
	}
}
