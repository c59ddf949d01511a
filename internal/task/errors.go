package task

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTaskNotFound is returned when a task id is unknown to the scheduler.
var ErrTaskNotFound = errors.New("task not found")

// ErrExecutionNotFound is returned when an execution id is unknown to the
// history store.
var ErrExecutionNotFound = errors.New("execution not found")

// ValidationError carries every violation found in a task spec.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task spec: %s", strings.Join(e.Violations, "; "))
}

// SelfDependencyError rejects an edge from a task to itself.
type SelfDependencyError struct {
	TaskID string
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("task %s cannot depend on itself", e.TaskID)
}

// CyclicDependencyError rejects an edge that would close a cycle. Cycle
// lists the task ids on the offending path, first repeated last.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency would create a cycle: %s", strings.Join(e.Cycle, " -> "))
}

// ConcurrencyLimitError is returned when a start request would exceed the
// scheduler's running-task cap.
type ConcurrencyLimitError struct {
	Limit int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit of %d running tasks reached", e.Limit)
}

// DependencyNotSatisfiedError is returned when a task is started before all
// of its direct dependencies have completed.
type DependencyNotSatisfiedError struct {
	TaskID  string
	Pending []string
}

func (e *DependencyNotSatisfiedError) Error() string {
	return fmt.Sprintf("task %s has unsatisfied dependencies: %s", e.TaskID, strings.Join(e.Pending, ", "))
}

// UnsupportedFormatError is returned for an unknown export format.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported export format %q", e.Format)
}
