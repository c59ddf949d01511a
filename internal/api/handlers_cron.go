package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

type cronPreviewRequest struct {
	Cron  string `json:"cron"`
	Count int    `json:"count"`
}

type cronPreviewResponse struct {
	Cron string   `json:"cron"`
	Next []string `json:"next"`
}

// handleCronPreview resolves the next occurrences of a cron expression so
// the dashboard can show a schedule before the task is saved.
func (s *Server) handleCronPreview(w http.ResponseWriter, r *http.Request) {
	var req cronPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Cron = strings.TrimSpace(req.Cron)
	if req.Cron == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "cron expression is required")
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	if req.Count > 20 {
		req.Count = 20
	}

	schedule, err := task.ParseCron(req.Cron)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cron", err.Error())
		return
	}

	occurrences := task.NextOccurrences(schedule, time.Now(), req.Count)
	next := make([]string, 0, len(occurrences))
	for _, t := range occurrences {
		next = append(next, t.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, cronPreviewResponse{Cron: req.Cron, Next: next})
}
