package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mengguiyouziyi/social-auto-upload/internal/monitor"
)

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.SystemHealth())
}

func (s *Server) handleMonitorTrend(w http.ResponseWriter, r *http.Request) {
	hours := parseIntDefault(r.URL.Query().Get("hours"), 24)
	writeJSON(w, http.StatusOK, s.monitor.PerformanceTrend(hours))
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	writeJSON(w, http.StatusOK, s.monitor.Alerts(activeOnly))
}

func (s *Server) handleAlertStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.AlertStatistics())
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.ResolveAlert(chi.URLParam(r, "alertID")); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Rules(chi.URLParam(r, "taskID")))
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var spec monitor.RuleSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	rule, err := s.monitor.AddRule(chi.URLParam(r, "taskID"), spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_condition", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	if !s.monitor.RemoveRule(chi.URLParam(r, "taskID"), chi.URLParam(r, "ruleID")) {
		writeError(w, http.StatusNotFound, "not_found", "rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if !s.monitor.SetRuleEnabled(chi.URLParam(r, "taskID"), chi.URLParam(r, "ruleID"), req.Enabled) {
		writeError(w, http.StatusNotFound, "not_found", "rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
