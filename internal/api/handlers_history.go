package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mengguiyouziyi/social-auto-upload/internal/history"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

func historyQuery(r *http.Request) history.Query {
	q := r.URL.Query()
	query := history.Query{
		TaskID:   q.Get("task_id"),
		Status:   task.Status(q.Get("status")),
		Type:     task.Type(q.Get("type")),
		Platform: task.Platform(q.Get("platform")),
		SortBy:   q.Get("sort_by"),
		SortAsc:  q.Get("sort") == "asc",
		Page:     parseIntDefault(q.Get("page"), 1),
		PageSize: parseIntDefault(q.Get("page_size"), 0),
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		query.From = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		query.To = to
	}
	return query
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.history.List(historyQuery(r)))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.history.Get(chi.URLParam(r, "executionID"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.scheduler.GetTask(taskID); err != nil {
		writeTaskError(w, err)
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	writeJSON(w, http.StatusOK, s.history.TaskHistory(taskID, limit))
}

func (s *Server) handleHistoryStatistics(w http.ResponseWriter, r *http.Request) {
	q := historyQuery(r)
	writeJSON(w, http.StatusOK, s.history.Statistics(q.TaskID, q.From, q.To))
}

func (s *Server) handleHistoryTrend(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 7)
	writeJSON(w, http.StatusOK, s.history.Trend(r.URL.Query().Get("task_id"), days))
}

func (s *Server) handleErrorStatistics(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 7)
	writeJSON(w, http.StatusOK, s.history.ErrorStatistics(r.URL.Query().Get("task_id"), days))
}

func (s *Server) handlePerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 7)
	writeJSON(w, http.StatusOK, s.history.PerformanceMetrics(r.URL.Query().Get("task_id"), days))
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	data, err := s.history.Export(format, historyQuery(r))
	if err != nil {
		var fmtErr *task.UnsupportedFormatError
		if errors.As(err, &fmtErr) {
			writeError(w, http.StatusBadRequest, "unsupported_format", fmtErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "export failed")
		return
	}

	contentType := "application/json"
	ext := "json"
	if format != "json" {
		contentType = "text/csv"
		ext = "csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=history-%s.%s",
		time.Now().Format("20060102-150405"), ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "query parameter q is required")
		return
	}
	writeJSON(w, http.StatusOK, s.history.Search(query, historyQuery(r)))
}

func (s *Server) handleCleanupHistory(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("older_than_days"), 30)
	removed, remaining := s.history.Cleanup(days)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed, "remaining": remaining})
}
