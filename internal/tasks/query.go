// Package tasks turns list requests into store filters and wraps the task
// store with the clock and audit trail the HTTP layer needs.
package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/weekday"
)

// ErrInvalidQuery is returned for unknown day or status parameters. It
// wraps persistence.ErrValidation so callers can map both the same way.
var ErrInvalidQuery = fmt.Errorf("invalid task query: %w", persistence.ErrValidation)

// Mode names a listing view.
type Mode int

const (
	ModeAll Mode = iota
	ModePending
	ModePendingOn
	ModeCompletedOn
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModePending:
		return "pending"
	case ModePendingOn:
		return "pending_on"
	case ModeCompletedOn:
		return "completed_on"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Query is a listing view. Build one with All, Pending, PendingOn or
// CompletedOn; the zero value is All.
type Query struct {
	Mode Mode
	Day  weekday.Weekday
}

// All selects every task regardless of completion state.
func All() Query { return Query{Mode: ModeAll} }

// Pending selects every pending task.
func Pending() Query { return Query{Mode: ModePending} }

// PendingOn selects pending tasks tagged with day.
func PendingOn(day weekday.Weekday) Query { return Query{Mode: ModePendingOn, Day: day} }

// CompletedOn selects completed tasks tagged with day.
func CompletedOn(day weekday.Weekday) Query { return Query{Mode: ModeCompletedOn, Day: day} }

// Filter converts q to the store predicate.
func (q Query) Filter() persistence.Filter {
	pending, completed := false, true
	switch q.Mode {
	case ModePending:
		return persistence.Filter{Completed: &pending}
	case ModePendingOn:
		return persistence.Filter{Weekday: q.Day, Completed: &pending}
	case ModeCompletedOn:
		return persistence.Filter{Weekday: q.Day, Completed: &completed}
	default:
		return persistence.Filter{}
	}
}

func (q Query) Validate() error {
	switch q.Mode {
	case ModeAll, ModePending:
		return nil
	case ModePendingOn, ModeCompletedOn:
		if !q.Day.Valid() {
			return fmt.Errorf("%s requires a weekday: %w", q.Mode, ErrInvalidQuery)
		}
		return nil
	default:
		return fmt.Errorf("unknown mode %d: %w", int(q.Mode), ErrInvalidQuery)
	}
}

func (q Query) String() string {
	if q.Day.Valid() {
		return q.Mode.String() + ":" + q.Day.String()
	}
	return q.Mode.String()
}

// Status values accepted by QueryFromRequest.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// QueryFromRequest maps the day and status request parameters to a query.
// Blank parameters are treated as absent. day may be a weekday label or
// "today", which resolves against today.
func QueryFromRequest(dayParam, statusParam string, today time.Time) (Query, error) {
	dayParam = strings.TrimSpace(dayParam)
	status := strings.ToLower(strings.TrimSpace(statusParam))
	switch status {
	case "", StatusPending, StatusCompleted:
	default:
		return Query{}, fmt.Errorf("status %q: %w", statusParam, ErrInvalidQuery)
	}

	if dayParam == "" {
		switch status {
		case StatusPending:
			return Pending(), nil
		case StatusCompleted:
			return CompletedOn(weekday.Of(today)), nil
		default:
			return All(), nil
		}
	}

	day, err := weekday.Parse(dayParam, today)
	if err != nil {
		return Query{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if status == StatusCompleted {
		return CompletedOn(day), nil
	}
	return PendingOn(day), nil
}
