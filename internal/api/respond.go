package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeTaskError maps the scheduler's typed errors to HTTP responses.
func writeTaskError(w http.ResponseWriter, err error) {
	var (
		validationErr  *task.ValidationError
		cyclicErr      *task.CyclicDependencyError
		selfDepErr     *task.SelfDependencyError
		concurrencyErr *task.ConcurrencyLimitError
		depErr         *task.DependencyNotSatisfiedError
	)
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, task.ErrExecutionNotFound):
		writeError(w, http.StatusNotFound, "not_found", "execution not found")
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":       "invalid_input",
				"message":    validationErr.Error(),
				"violations": validationErr.Violations,
			},
		})
	case errors.As(err, &cyclicErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]any{
				"code":    "cyclic_dependency",
				"message": cyclicErr.Error(),
				"cycle":   cyclicErr.Cycle,
			},
		})
	case errors.As(err, &selfDepErr):
		writeError(w, http.StatusBadRequest, "self_dependency", selfDepErr.Error())
	case errors.As(err, &concurrencyErr):
		writeError(w, http.StatusTooManyRequests, "concurrency_limit", concurrencyErr.Error())
	case errors.As(err, &depErr):
		writeError(w, http.StatusConflict, "dependencies_not_satisfied", depErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
