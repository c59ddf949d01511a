package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mengguiyouziyi/social-auto-upload/internal/engine"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var spec task.Task
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	created, err := s.scheduler.AddTask(&spec)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks := s.scheduler.Tasks(engine.Filter{
		Status:   task.Status(q.Get("status")),
		Type:     task.Type(q.Get("type")),
		Platform: task.Platform(q.Get("platform")),
	})
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.scheduler.GetTask(chi.URLParam(r, "taskID"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch engine.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	updated, err := s.scheduler.UpdateTask(chi.URLParam(r, "taskID"), patch)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.DeleteTask(chi.URLParam(r, "taskID")); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	result, err := s.scheduler.ExecuteTask(r.Context(), taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "result": result})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.StopTask(chi.URLParam(r, "taskID")); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.PauseTask(chi.URLParam(r, "taskID")); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.ResumeTask(chi.URLParam(r, "taskID")); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress int `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if err := s.scheduler.UpdateProgress(chi.URLParam(r, "taskID"), req.Progress); err != nil {
		writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaskCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.TaskCounts())
}

func (s *Server) handleTaskTypes(w http.ResponseWriter, r *http.Request) {
	registry := s.scheduler.Registry()
	out := make(map[task.Type]task.TypeConfig)
	for _, t := range registry.Types() {
		cfg, _ := registry.Get(t)
		out[t] = cfg
	}
	writeJSON(w, http.StatusOK, out)
}
