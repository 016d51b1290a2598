package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/gotodo/internal/otel"
	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/schedule"
	"github.com/basket/gotodo/internal/shared"
)

// User-facing messages.
const (
	msgMissingFields = "时间和内容不能为空"
	msgTaskNotFound  = "任务不存在"
	msgTaskDeleted   = "任务已删除"
	msgInvalidBody   = "请求格式错误"
	msgBodyTooLarge  = "请求体过大"
	msgInternal      = "服务器内部错误"
)

func (s *Server) handleAPITasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.createTask(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q, err := s.cfg.Tasks.QueryFromRequest(params.Get("day"), params.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, span := otel.StartSpan(r.Context(), s.tracer, "tasks.list", otel.AttrQueryMode.String(q.Mode.String()))
	defer span.End()
	if q.Day.Valid() {
		span.SetAttributes(otel.AttrWeekday.String(q.Day.String()))
	}

	list, err := s.cfg.Tasks.List(ctx, q)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeBodyError(w, err)
		return
	}
	req, err := decodeCreateTask(body)
	switch {
	case errors.Is(err, errMissingFields):
		writeError(w, http.StatusBadRequest, msgMissingFields)
		return
	case err != nil:
		s.logger.Debug("create task: rejected body", "trace_id", shared.TraceID(r.Context()), "error", err)
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	ctx, span := otel.StartSpan(r.Context(), s.tracer, "tasks.create")
	defer span.End()
	task, err := s.cfg.Tasks.Create(ctx, req.Time, req.Content)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	span.SetAttributes(otel.AttrTaskID.Int64(task.ID))
	s.cfg.Metrics.RecordTaskMutation(ctx, "create")
	writeJSON(w, http.StatusCreated, task)
}

// handleAPITaskByID serves /api/tasks/{id} and /api/tasks/{id}/complete.
func (s *Server) handleAPITaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, routeTaskByID)
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, msgTaskNotFound)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.getTask(w, r, id)
		case http.MethodDelete:
			s.deleteTask(w, r, id)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "complete":
		if r.Method != http.MethodPut {
			w.Header().Set("Allow", "PUT")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.completeTask(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, id int64) {
	task, err := s.cfg.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, span := otel.StartSpan(r.Context(), s.tracer, "tasks.complete", otel.AttrTaskID.Int64(id))
	defer span.End()
	done, err := s.cfg.Tasks.Complete(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordTaskMutation(ctx, "complete")
	writeJSON(w, http.StatusOK, done)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, span := otel.StartSpan(r.Context(), s.tracer, "tasks.delete", otel.AttrTaskID.Int64(id))
	defer span.End()
	if err := s.cfg.Tasks.Delete(ctx, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordTaskMutation(ctx, "delete")
	writeJSON(w, http.StatusOK, map[string]any{"message": msgTaskDeleted, "id": id})
}

func (s *Server) handleImportSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Importer == nil {
		writeError(w, http.StatusServiceUnavailable, "schedule import unavailable")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, errorMessage(schedule.ErrMissingInput))
		return
	}
	defer file.Close()

	ctx, span := otel.StartSpan(r.Context(), s.tracer, "schedule.import")
	defer span.End()
	res, err := s.cfg.Importer.Import(ctx, header.Filename, file)
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	span.SetAttributes(otel.AttrBatchID.String(res.BatchID))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
	case errors.Is(err, schedule.ErrMissingInput),
		errors.Is(err, schedule.ErrUnsupportedFormat),
		errors.Is(err, schedule.ErrMalformedSheet):
		writeError(w, http.StatusBadRequest, errorMessage(err))
	default:
		s.logger.Error("schedule import failed", "trace_id", shared.TraceID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, errorMessage(err))
	}
}

// writeServiceError maps task sentinel errors onto status codes. Unexpected
// errors are logged and answered with a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, http.StatusNotFound, msgTaskNotFound)
	case errors.Is(err, persistence.ErrValidation):
		writeError(w, http.StatusBadRequest, msgMissingFields)
	default:
		s.logger.Error("request failed", "trace_id", shared.TraceID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func (s *Server) writeBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
		return
	}
	writeError(w, http.StatusBadRequest, msgInvalidBody)
}

// errorMessage returns the client-facing text for an import error.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, schedule.ErrMissingInput):
		return "没有文件部分"
	case errors.Is(err, schedule.ErrUnsupportedFormat):
		return "文件格式不支持，请上传 .xlsx 文件"
	case errors.Is(err, schedule.ErrMalformedSheet):
		return "课表格式不正确"
	default:
		return "无法解析课表文件"
	}
}
