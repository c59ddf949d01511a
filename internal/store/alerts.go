package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// ErrAlertNotFound is returned when an alert id has no archived row.
var ErrAlertNotFound = errors.New("alert not found")

// InsertAlert archives one raised alert.
func (s *Store) InsertAlert(ctx context.Context, alert *task.Alert) error {
	resolved := 0
	if alert.Resolved {
		resolved = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO alerts (id, rule_id, rule_name, task_id, task_name, severity, message,
			timestamp, resolved, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.RuleID, alert.RuleName, alert.TaskID, alert.TaskName, string(alert.Severity),
		alert.Message, alert.Timestamp.UTC().Format(time.RFC3339Nano), resolved,
		nullableTime(alert.ResolvedAt), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// MarkAlertResolved flags an archived alert as handled.
func (s *Store) MarkAlertResolved(ctx context.Context, id string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE alerts SET resolved = 1, resolved_at = ? WHERE id = ?
	`, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark alert resolved: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// ListAlerts returns archived alerts newest-first.
func (s *Store) ListAlerts(ctx context.Context, activeOnly bool, limit, offset int) ([]*task.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, rule_id, rule_name, task_id, task_name, severity, message, timestamp, resolved, resolved_at
		FROM alerts`
	if activeOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`

	rows, err := s.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*task.Alert
	for rows.Next() {
		var (
			a          task.Alert
			severity   string
			timestamp  string
			resolved   int
			resolvedAt sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RuleID, &a.RuleName, &a.TaskID, &a.TaskName, &severity,
			&a.Message, &timestamp, &resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = task.Severity(severity)
		a.Timestamp = mustParseTime(timestamp)
		a.Resolved = resolved != 0
		if resolvedAt.Valid {
			t := mustParseTime(resolvedAt.String)
			a.ResolvedAt = &t
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}
