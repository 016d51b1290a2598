package schedule_test

import (
	"testing"

	"github.com/basket/gotodo/internal/schedule"
)

func gridRow(period, section string, days ...string) []string {
	row := make([]string, schedule.Columns)
	row[0], row[1] = period, section
	copy(row[2:], days)
	return row
}

func TestNormalize_ForwardFilledPeriodLabels(t *testing.T) {
	rows := [][]string{
		gridRow("上午", "1", "高等数学"),
		gridRow("", "2", "线性代数"),
		gridRow("", "3", "大学英语"),
	}
	got := schedule.Normalize(rows)
	want := []string{"星期一 上午1节", "星期一 上午2节", "星期一 上午3节"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Time != w {
			t.Fatalf("entry %d: expected time %q, got %q", i, w, got[i].Time)
		}
	}
	if got[0].Content != "星期一 上午1节 高等数学" {
		t.Fatalf("unexpected content %q", got[0].Content)
	}
}

func TestNormalize_ExpandsEveryWeekdayColumn(t *testing.T) {
	rows := [][]string{
		gridRow("晚上", "9.0", "", "数据结构", "", "", "体育(1-8周)", "", "自习"),
	}
	got := schedule.Normalize(rows)
	want := map[string]string{
		"星期二 晚上9节": "星期二 晚上9节 数据结构",
		"星期五 晚上9节": "星期五 晚上9节 体育",
		"星期日 晚上9节": "星期日 晚上9节 自习",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), got)
	}
	for _, e := range got {
		if want[e.Time] != e.Content {
			t.Fatalf("unexpected entry %+v", e)
		}
	}
}

func TestNormalize_SkipsBannerAndFooterRows(t *testing.T) {
	rows := [][]string{
		gridRow("", "1", "高等数学"),     // no period seen yet
		gridRow("上午", "", "线性代数"),    // blank section
		gridRow("", "备注", "不是课程"),    // non-numeric section
		gridRow("", "2", "(停课)"),     // course empty after truncation
		gridRow("", "3", "", "", "英语"), // admitted
	}
	got := schedule.Normalize(rows)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %+v", got)
	}
	if got[0].Time != "星期三 上午3节" || got[0].Content != "星期三 上午3节 英语" {
		t.Fatalf("unexpected entry %+v", got[0])
	}
}

func TestNormalize_Empty(t *testing.T) {
	if got := schedule.Normalize(nil); len(got) != 0 {
		t.Fatalf("expected no entries, got %+v", got)
	}
}
