// Package schedule converts a weekly class timetable spreadsheet into task
// records. The grid has nine columns: period, section, then Monday through
// Sunday.
package schedule

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/basket/gotodo/internal/weekday"
)

const (
	// Columns is the fixed width of a timetable row.
	Columns = 9

	colPeriod   = 0
	colSection  = 1
	colFirstDay = 2

	sectionSuffix = "节"
)

// Entry is one (time, content) pair derived from a non-blank weekday cell.
type Entry struct {
	Time    string
	Content string
	// Row and Column locate the source cell in the data region, zero based.
	Row    int
	Column int
}

// slot is an admitted row: its filled period and normalized section.
type slot struct {
	period  string
	section string
	cells   []string
	row     int
}

// foldState carries the current period across rows.
type foldState struct {
	period string
	slots  []slot
}

// Normalize reduces data rows (header already removed) to entries in row,
// then weekday, order. Each row must have at least Columns cells.
func Normalize(rows [][]string) []Entry {
	state := foldState{}
	for i, row := range rows {
		state = fillPeriod(state, i, row)
	}

	var out []Entry
	for _, s := range state.slots {
		periodLabel := s.period + s.section + sectionSuffix
		for d, day := range weekday.All() {
			col := colFirstDay + d
			course, ok := cleanCourse(s.cells[col])
			if !ok {
				continue
			}
			timeLabel := day.String() + " " + periodLabel
			out = append(out, Entry{
				Time:    timeLabel,
				Content: timeLabel + " " + course,
				Row:     s.row,
				Column:  col,
			})
		}
	}
	return out
}

// fillPeriod is the fold step. A non-blank period replaces the carried one;
// the row is admitted only when it has a numeric section and a period.
func fillPeriod(state foldState, index int, row []string) foldState {
	if p := strings.TrimSpace(row[colPeriod]); p != "" {
		state.period = p
	}
	if state.period == "" {
		return state
	}
	section, ok := normalizeSection(row[colSection])
	if !ok {
		return state
	}
	state.slots = append(state.slots, slot{
		period:  state.period,
		section: section,
		cells:   row,
		row:     index,
	})
	return state
}

// normalizeSection renders integral numbers without a fraction ("3.0" is
// "3") and keeps other numbers as written. Blank or non-numeric text is
// rejected.
func normalizeSection(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10), true
	}
	return text, true
}

// cleanCourse trims the cell, joins its lines with single spaces and drops
// everything from the first opening parenthesis on.
func cleanCourse(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	text = strings.Join(kept, " ")

	if idx := strings.IndexAny(text, "(（"); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	return text, text != ""
}
