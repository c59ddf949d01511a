package task

import (
	"time"
)

// Type describes the kind of work a task performs.
type Type string

const (
	TypePublish     Type = "publish"
	TypeAnalysis    Type = "analysis"
	TypeMonitor     Type = "monitor"
	TypeSync        Type = "sync"
	TypeMaintenance Type = "maintenance"
)

// Status describes the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// Priority orders tasks for display purposes.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ScheduleType selects how a task's next run time is derived.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleOnce      ScheduleType = "once"
	ScheduleDaily     ScheduleType = "daily"
	ScheduleWeekly    ScheduleType = "weekly"
	ScheduleMonthly   ScheduleType = "monthly"
	ScheduleCustom    ScheduleType = "custom"
)

// RetryPolicy selects how retry delays grow after failures.
type RetryPolicy string

const (
	RetryNone        RetryPolicy = "none"
	RetryFixed       RetryPolicy = "fixed"
	RetryExponential RetryPolicy = "exponential"
)

// Platform identifies a publishing target.
type Platform string

const (
	PlatformDouyin      Platform = "douyin"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformWechat      Platform = "wechat"
	PlatformKuaishou    Platform = "kuaishou"
	PlatformBilibili    Platform = "bilibili"
	PlatformBaijia      Platform = "baijia"
	PlatformTiktok      Platform = "tiktok"
	PlatformSystem      Platform = "system"
)

// Schedule describes when a task should run. At is a "HH:mm" time of day
// used by the daily/weekly/monthly types. Weekday and MonthDay default to
// Monday and the 1st when left zero. Cron holds a 5-field expression for
// the custom type.
type Schedule struct {
	Type     ScheduleType `json:"type" validate:"required,oneof=immediate once daily weekly monthly custom"`
	At       string       `json:"at,omitempty"`
	RunAt    *time.Time   `json:"run_at,omitempty"`
	Weekday  time.Weekday `json:"weekday,omitempty"`
	MonthDay int          `json:"month_day,omitempty" validate:"min=0,max=28"`
	Cron     string       `json:"cron,omitempty"`
}

// Task is the unit of schedulable work owned by the scheduler.
type Task struct {
	ID           string         `json:"id"`
	Name         string         `json:"name" validate:"required,min=2,max=50"`
	Description  string         `json:"description" validate:"required"`
	Type         Type           `json:"type" validate:"required,oneof=publish analysis monitor sync maintenance"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority" validate:"required,oneof=low medium high urgent"`
	Schedule     Schedule       `json:"schedule"`
	Platforms    []Platform     `json:"platforms" validate:"required,min=1"`
	Config       map[string]any `json:"config"`
	Dependencies []string       `json:"dependencies"`

	RetryPolicy   RetryPolicy `json:"retry_policy" validate:"required,oneof=none fixed exponential"`
	MaxRetries    int         `json:"max_retries" validate:"min=0,max=10"`
	RetryInterval int         `json:"retry_interval" validate:"min=0,max=1440"` // minutes
	Timeout       int         `json:"timeout" validate:"min=1,max=1440"`        // minutes
	Progress      int         `json:"progress"`

	CreatedAt       time.Time     `json:"created_at"`
	LastRun         *time.Time    `json:"last_run,omitempty"`
	NextRun         *time.Time    `json:"next_run,omitempty"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	RunCount        int           `json:"run_count"`
	ErrorCount      int           `json:"error_count"`
}

// Clone returns a deep copy safe to hand to callers outside the owning lock.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Platforms != nil {
		cp.Platforms = append([]Platform(nil), t.Platforms...)
	}
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Config != nil {
		cp.Config = make(map[string]any, len(t.Config))
		for k, v := range t.Config {
			cp.Config[k] = v
		}
	}
	if t.Schedule.RunAt != nil {
		at := *t.Schedule.RunAt
		cp.Schedule.RunAt = &at
	}
	if t.LastRun != nil {
		lr := *t.LastRun
		cp.LastRun = &lr
	}
	if t.NextRun != nil {
		nr := *t.NextRun
		cp.NextRun = &nr
	}
	return &cp
}

// ClampProgress bounds a progress percentage to [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// LogEntry is one line of runner output attached to an execution.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Execution captures a single run attempt of a task. Immutable once
// finalized except through explicit history updates.
type Execution struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	TaskName  string     `json:"task_name"`
	TaskType  Type       `json:"task_type"`
	Platforms []Platform `json:"platforms,omitempty"`

	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"` // zero while running
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Logs      []LogEntry    `json:"logs,omitempty"`
}

// Clone returns a deep copy of the execution record.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Platforms != nil {
		cp.Platforms = append([]Platform(nil), e.Platforms...)
	}
	if e.Logs != nil {
		cp.Logs = append([]LogEntry(nil), e.Logs...)
	}
	if e.EndTime != nil {
		et := *e.EndTime
		cp.EndTime = &et
	}
	return &cp
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is raised when an alert rule's condition holds for a monitored task.
type Alert struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"rule_id"`
	RuleName   string     `json:"rule_name"`
	TaskID     string     `json:"task_id"`
	TaskName   string     `json:"task_name"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
