package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func archivedExecution(id string, start time.Time) *task.Execution {
	end := start.Add(3 * time.Second)
	return &task.Execution{
		ID:        id,
		TaskID:    "t1",
		TaskName:  "evening publish",
		TaskType:  task.TypePublish,
		Platforms: []task.Platform{task.PlatformDouyin, task.PlatformBilibili},
		StartTime: start,
		EndTime:   &end,
		Status:    task.StatusCompleted,
		Duration:  3 * time.Second,
		Result:    map[string]any{"published": float64(2)},
		Logs: []task.LogEntry{
			{Timestamp: start, Level: "info", Message: "publishing to douyin"},
		},
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertExecution(ctx, archivedExecution("e1", start)))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, task.TypePublish, got.TaskType)
	assert.Equal(t, []task.Platform{task.PlatformDouyin, task.PlatformBilibili}, got.Platforms)
	assert.Equal(t, 3*time.Second, got.Duration)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(start.Add(3*time.Second)))
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "publishing to douyin", got.Logs[0].Message)

	result, ok := got.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), result["published"])
}

func TestGetExecutionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetExecution(context.Background(), "ghost")
	assert.ErrorIs(t, err, task.ErrExecutionNotFound)
}

func TestListExecutionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		exec := archivedExecution(id, base.Add(time.Duration(i)*time.Minute))
		if id == "e3" {
			exec.TaskID = "t2"
		}
		require.NoError(t, s.InsertExecution(ctx, exec))
	}

	all, err := s.ListExecutions(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID)

	scoped, err := s.ListExecutions(ctx, "t1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	count, err := s.CountExecutions(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPruneExecutions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.InsertExecution(ctx, archivedExecution("old", now.AddDate(0, 0, -40))))
	require.NoError(t, s.InsertExecution(ctx, archivedExecution("new", now.AddDate(0, 0, -1))))

	removed, err := s.PruneExecutions(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetExecution(ctx, "old")
	assert.ErrorIs(t, err, task.ErrExecutionNotFound)
}

func TestAlertRoundTripAndResolve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	alert := &task.Alert{
		ID:        "a1",
		RuleID:    "t1_failure_rate",
		RuleName:  "failure rate too high",
		TaskID:    "t1",
		TaskName:  "evening publish",
		Severity:  task.SeverityError,
		Message:   "more than 20% of runs failed",
		Timestamp: ts,
	}
	require.NoError(t, s.InsertAlert(ctx, alert))

	active, err := s.ListAlerts(ctx, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, task.SeverityError, active[0].Severity)
	assert.False(t, active[0].Resolved)

	require.NoError(t, s.MarkAlertResolved(ctx, "a1", ts.Add(time.Hour)))

	active, err = s.ListAlerts(ctx, true, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListAlerts(ctx, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
	require.NotNil(t, all[0].ResolvedAt)

	assert.ErrorIs(t, s.MarkAlertResolved(ctx, "ghost", ts), ErrAlertNotFound)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer s2.Close()

	var count int
	require.NoError(t, s2.DB.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}
