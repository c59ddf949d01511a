package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// InsertExecution archives one finished execution.
func (s *Store) InsertExecution(ctx context.Context, exec *task.Execution) error {
	platforms, err := json.Marshal(exec.Platforms)
	if err != nil {
		return fmt.Errorf("marshal platforms: %w", err)
	}
	logs, err := json.Marshal(exec.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	var result []byte
	if exec.Result != nil {
		result, err = json.Marshal(exec.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, task_name, task_type, platforms, start_time, end_time,
			status, duration_ms, result, error, logs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, exec.TaskID, exec.TaskName, string(exec.TaskType), string(platforms),
		exec.StartTime.UTC().Format(time.RFC3339Nano), nullableTime(exec.EndTime),
		string(exec.Status), exec.Duration.Milliseconds(), nullableBytes(result),
		nullableString(exec.Error), string(logs),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution loads one archived execution.
func (s *Store) GetExecution(ctx context.Context, id string) (*task.Execution, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, task_name, task_type, platforms, start_time, end_time,
			status, duration_ms, result, error, logs
		FROM executions WHERE id = ?
	`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

// ListExecutions returns archived executions newest-first, optionally
// scoped to one task.
func (s *Store) ListExecutions(ctx context.Context, taskID string, limit, offset int) ([]*task.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, task_id, task_name, task_type, platforms, start_time, end_time,
			status, duration_ms, result, error, logs
		FROM executions`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*task.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return execs, nil
}

// CountExecutions counts archived executions, optionally per task.
func (s *Store) CountExecutions(ctx context.Context, taskID string) (int, error) {
	query := `SELECT COUNT(1) FROM executions`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return count, nil
}

// PruneExecutions deletes archived executions that started before the
// cutoff and returns the number removed.
func (s *Store) PruneExecutions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM executions WHERE start_time < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*task.Execution, error) {
	var (
		id, taskID, taskName, taskType string
		platforms, startTime           string
		endTime                        sql.NullString
		status                         string
		durationMS                     int64
		result, errMsg, logs           sql.NullString
	)
	if err := scanner.Scan(&id, &taskID, &taskName, &taskType, &platforms, &startTime, &endTime,
		&status, &durationMS, &result, &errMsg, &logs); err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	exec := &task.Execution{
		ID:        id,
		TaskID:    taskID,
		TaskName:  taskName,
		TaskType:  task.Type(taskType),
		StartTime: mustParseTime(startTime),
		Status:    task.Status(status),
		Duration:  time.Duration(durationMS) * time.Millisecond,
	}
	if err := json.Unmarshal([]byte(platforms), &exec.Platforms); err != nil {
		return nil, fmt.Errorf("unmarshal platforms: %w", err)
	}
	if endTime.Valid {
		t := mustParseTime(endTime.String)
		exec.EndTime = &t
	}
	if result.Valid {
		var payload any
		if err := json.Unmarshal([]byte(result.String), &payload); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		exec.Result = payload
	}
	if errMsg.Valid {
		exec.Error = errMsg.String
	}
	if logs.Valid {
		if err := json.Unmarshal([]byte(logs.String), &exec.Logs); err != nil {
			return nil, fmt.Errorf("unmarshal logs: %w", err)
		}
	}
	return exec, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
