// Package weekday maps calendar dates to the fixed set of weekday tokens
// used in task labels.
package weekday

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is an ISO weekday number: 1 is Monday, 7 is Sunday.
// The zero value means "no weekday".
type Weekday int

const (
	None Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// labels holds the display tokens in Monday..Sunday order. No token is a
// substring of another, so containment checks never confuse two days.
var labels = [...]string{
	Monday:    "星期一",
	Tuesday:   "星期二",
	Wednesday: "星期三",
	Thursday:  "星期四",
	Friday:    "星期五",
	Saturday:  "星期六",
	Sunday:    "星期日",
}

// TodayToken is accepted by Parse in place of a label and resolves to the
// weekday of the supplied clock.
const TodayToken = "today"

// All returns the seven weekdays in Monday..Sunday order.
func All() []Weekday {
	return []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}
}

// Of returns the weekday of t in t's location.
func Of(t time.Time) Weekday {
	wd := t.Weekday()
	if wd == time.Sunday {
		return Sunday
	}
	return Weekday(wd)
}

// Valid reports whether w names one of the seven days.
func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

// String returns the display token, or "" for None/invalid values.
func (w Weekday) String() string {
	if !w.Valid() {
		return ""
	}
	return labels[w]
}

func (w Weekday) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Weekday) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*w = None
		return nil
	}
	parsed, err := Parse(string(text), time.Time{})
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Parse resolves a display token. "today" resolves against now.
func Parse(label string, now time.Time) (Weekday, error) {
	label = strings.TrimSpace(label)
	if strings.EqualFold(label, TodayToken) {
		return Of(now), nil
	}
	for _, w := range All() {
		if labels[w] == label {
			return w, nil
		}
	}
	return None, fmt.Errorf("unknown weekday %q", label)
}

// Find returns the first weekday whose token occurs in text, scanning text
// left to right. It returns None when text carries no token.
func Find(text string) Weekday {
	best, bestAt := None, -1
	for _, w := range All() {
		idx := strings.Index(text, labels[w])
		if idx < 0 {
			continue
		}
		if bestAt < 0 || idx < bestAt {
			best, bestAt = w, idx
		}
	}
	return best
}
