package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSetDependencies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dependencies []string `json:"dependencies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	if err := s.scheduler.SetDependencies(taskID, req.Dependencies); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":      taskID,
		"dependencies": s.scheduler.Graph().DependenciesOf(taskID),
	})
}

func (s *Server) handleGetDependencies(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.scheduler.GetTask(taskID); err != nil {
		writeTaskError(w, err)
		return
	}
	graph := s.scheduler.Graph()
	canRun, pending := graph.CanExecute(taskID, s.scheduler.TaskStatuses())
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":          taskID,
		"dependencies":     graph.DependenciesOf(taskID),
		"dependents":       graph.DependentsOf(taskID),
		"all_dependencies": graph.AllDependenciesOf(taskID),
		"all_dependents":   graph.AllDependentsOf(taskID),
		"can_execute":      canRun,
		"pending":          pending,
	})
}

func (s *Server) handleValidateDependencies(w http.ResponseWriter, r *http.Request) {
	var proposal map[string][]string
	if err := json.NewDecoder(r.Body).Decode(&proposal); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	known := make(map[string]bool)
	for id := range s.scheduler.TaskStatuses() {
		known[id] = true
	}
	writeJSON(w, http.StatusOK, s.scheduler.Graph().Validate(proposal, known))
}

func (s *Server) handleExecutionOrder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"order":      s.scheduler.Graph().ExecutionOrder(),
		"executable": s.scheduler.Graph().ExecutableTasks(s.scheduler.TaskStatuses()),
	})
}

func (s *Server) handleDependencyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Graph().Stats())
}

func (s *Server) handleDependencyGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Graph().Visualization())
}
