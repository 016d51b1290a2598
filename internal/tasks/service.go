package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/basket/gotodo/internal/audit"
	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/shared"
	"github.com/basket/gotodo/internal/weekday"
)

// Store is the subset of persistence.Store the service needs.
type Store interface {
	CreateTask(ctx context.Context, timeLabel, content string) (*persistence.Task, error)
	GetTask(ctx context.Context, id int64) (*persistence.Task, error)
	ListTasks(ctx context.Context, f persistence.Filter) ([]persistence.Task, error)
	CompleteTask(ctx context.Context, id int64) (*persistence.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type Config struct {
	Store  Store
	Logger *slog.Logger
	// Now supplies "today". Defaults to time.Now.
	Now func() time.Time
}

// Service applies task lifecycle operations. Events are published by the
// store; the service adds the clock, audit records and logs.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  cfg.Store,
		logger: logger.With("component", "tasks"),
		now:    now,
	}
}

// Today returns the weekday of the service clock.
func (s *Service) Today() weekday.Weekday {
	return weekday.Of(s.now())
}

// QueryFromRequest resolves request parameters against the service clock.
func (s *Service) QueryFromRequest(dayParam, statusParam string) (Query, error) {
	return QueryFromRequest(dayParam, statusParam, s.now())
}

func (s *Service) Create(ctx context.Context, timeLabel, content string) (*persistence.Task, error) {
	task, err := s.store.CreateTask(ctx, timeLabel, content)
	if err != nil {
		s.recordFailure(ctx, "task.create", "", err)
		return nil, err
	}
	audit.Record(ctx, "task.create", audit.OutcomeOK, idSubject(task.ID), task.Time)
	s.logger.Info("task created", "trace_id", shared.TraceID(ctx), "task_id", task.ID, "weekday", task.Weekday.String())
	return task, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*persistence.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Service) List(ctx context.Context, q Query) ([]persistence.Task, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	out, err := s.store.ListTasks(ctx, q.Filter())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q, err)
	}
	return out, nil
}

// Complete marks id completed and returns the tasks completed today,
// including id when it is tagged with today's weekday.
func (s *Service) Complete(ctx context.Context, id int64) ([]persistence.Task, error) {
	task, err := s.store.CompleteTask(ctx, id)
	if err != nil {
		s.recordFailure(ctx, "task.complete", idSubject(id), err)
		return nil, err
	}
	audit.Record(ctx, "task.complete", audit.OutcomeOK, idSubject(task.ID), task.Time)
	s.logger.Info("task completed", "trace_id", shared.TraceID(ctx), "task_id", task.ID)
	return s.List(ctx, CompletedOn(s.Today()))
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		s.recordFailure(ctx, "task.delete", idSubject(id), err)
		return err
	}
	audit.Record(ctx, "task.delete", audit.OutcomeOK, idSubject(id), "")
	s.logger.Info("task deleted", "trace_id", shared.TraceID(ctx), "task_id", id)
	return nil
}

func (s *Service) recordFailure(ctx context.Context, action, subject string, err error) {
	outcome := audit.OutcomeFailed
	if errors.Is(err, persistence.ErrValidation) || errors.Is(err, persistence.ErrNotFound) {
		outcome = audit.OutcomeDenied
	}
	audit.Record(ctx, action, outcome, subject, err.Error())
	if outcome == audit.OutcomeFailed {
		s.logger.Error("task operation failed", "trace_id", shared.TraceID(ctx), "action", action, "error", err)
	}
}

func idSubject(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
