// Package engine owns the task table and drives execution: the dispatch
// loop, concurrency capping, dependency gating, retries and timeouts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mengguiyouziyi/social-auto-upload/internal/deps"
	"github.com/mengguiyouziyi/social-auto-upload/internal/events"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

const (
	// DefaultMaxConcurrent caps how many tasks may run at once.
	DefaultMaxConcurrent = 3
	// DefaultTick is the dispatch loop interval.
	DefaultTick = time.Second
	// dispatchGuard suppresses re-dispatch of the same task within the
	// window, so a task whose next-run stays in the past cannot thrash.
	dispatchGuard = time.Minute
)

// Reporter lets a runner stream logs and progress for the execution it is
// serving.
type Reporter interface {
	Log(message string)
	SetProgress(percent int)
}

// Runner executes one task type. The context carries the task's timeout as
// a deadline; runners are expected to return promptly once it is done.
type Runner interface {
	Run(ctx context.Context, t *task.Task, r Reporter) (any, error)
}

// Options configures a Scheduler. Zero fields fall back to defaults.
type Options struct {
	Logger        *slog.Logger
	Registry      *task.Registry
	Graph         *deps.Graph
	Emitter       *events.Emitter
	MaxConcurrent int
	Tick          time.Duration
	Clock         func() time.Time
}

type runState struct {
	exec      *task.Execution
	cancel    context.CancelFunc
	finalized bool
}

// Scheduler owns all tasks and their execution lifecycle. All state is
// guarded by mu; runners execute outside the lock.
type Scheduler struct {
	logger   *slog.Logger
	registry *task.Registry
	graph    *deps.Graph
	emitter  *events.Emitter
	clock    func() time.Time

	maxConcurrent int
	tick          time.Duration

	mu           sync.Mutex
	tasks        map[string]*task.Task
	running      map[string]*runState
	runners      map[task.Type]Runner
	lastDispatch map[string]time.Time
	retryTimers  map[string]*time.Timer

	baseCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	started    bool
}

// New builds a scheduler around the given collaborators.
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = task.NewRegistry()
	}
	if opts.Graph == nil {
		opts.Graph = deps.New()
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter(opts.Logger)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Scheduler{
		logger:        opts.Logger,
		registry:      opts.Registry,
		graph:         opts.Graph,
		emitter:       opts.Emitter,
		clock:         opts.Clock,
		maxConcurrent: opts.MaxConcurrent,
		tick:          opts.Tick,
		tasks:         make(map[string]*task.Task),
		running:       make(map[string]*runState),
		runners:       make(map[task.Type]Runner),
		lastDispatch:  make(map[string]time.Time),
		retryTimers:   make(map[string]*time.Timer),
	}
	registerSimulatedRunners(s)
	return s
}

// RegisterRunner installs the runner for a task type, replacing any
// previous one.
func (s *Scheduler) RegisterRunner(t task.Type, r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[t] = r
}

// Registry exposes the task type catalog.
func (s *Scheduler) Registry() *task.Registry { return s.registry }

// Graph exposes the dependency graph.
func (s *Scheduler) Graph() *deps.Graph { return s.graph }

// Emitter exposes the event emitter for subscribers.
func (s *Scheduler) Emitter() *events.Emitter { return s.emitter }

// Start launches the dispatch loop. Calling Start on a started scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx = ctx
	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler started", "tick", s.tick.String(), "max_concurrent", s.maxConcurrent)
	go s.loop(loopCtx)
}

// Stop halts the dispatch loop and cancels pending retry timers. Running
// tasks are left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.loopCancel
	done := s.loopDone
	for id, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, id)
	}
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// launches run on the base context so stopping the loop does
			// not cancel in-flight tasks
			s.dispatchDue(s.baseCtx)
		}
	}
}

// dispatchDue starts every pending task whose time has come, oldest first,
// until the concurrency cap is reached.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.clock()

	s.mu.Lock()
	due := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if s.shouldDispatchLocked(t, now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	s.mu.Unlock()

	for _, t := range due {
		if err := s.launch(ctx, t.ID); err != nil {
			var capErr *task.ConcurrencyLimitError
			if errors.As(err, &capErr) {
				return
			}
			var depErr *task.DependencyNotSatisfiedError
			if !errors.As(err, &depErr) {
				s.logger.Error("dispatch failed", "task_id", t.ID, "err", err)
			}
		}
	}
}

func (s *Scheduler) shouldDispatchLocked(t *task.Task, now time.Time) bool {
	if t.Status != task.StatusPending || t.NextRun == nil {
		return false
	}
	if now.Before(*t.NextRun) {
		return false
	}
	if last, ok := s.lastDispatch[t.ID]; ok && now.Sub(last) < dispatchGuard {
		return false
	}
	return true
}

// AddTask validates the spec, fills defaults, registers dependencies and
// stores the task as pending. The returned task is a copy.
func (s *Scheduler) AddTask(spec *task.Task) (*task.Task, error) {
	t := spec.Clone()
	applyDefaults(t)

	if err := s.registry.ValidateSpec(t); err != nil {
		return nil, err
	}

	now := s.clock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = task.StatusPending
	t.CreatedAt = now
	t.RunCount = 0
	t.ErrorCount = 0
	t.Progress = 0
	t.LastRun = nil

	next, err := task.NextRunTime(t.Schedule, now)
	if err != nil {
		return nil, err
	}
	t.NextRun = &next

	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s already exists", t.ID)
	}
	s.mu.Unlock()

	if len(t.Dependencies) > 0 {
		if err := s.graph.SetDependencies(t.ID, t.Dependencies); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	s.logger.Info("task added", "task_id", t.ID, "name", t.Name, "type", string(t.Type))
	s.emitter.Emit(events.Event{Type: events.TaskAdded, TaskID: t.ID, Task: t.Clone()})
	return t.Clone(), nil
}

// Patch is a partial task update; nil fields are left unchanged.
type Patch struct {
	Name          *string           `json:"name,omitempty"`
	Description   *string           `json:"description,omitempty"`
	Priority      *task.Priority    `json:"priority,omitempty"`
	Schedule      *task.Schedule    `json:"schedule,omitempty"`
	Platforms     []task.Platform   `json:"platforms,omitempty"`
	Config        map[string]any    `json:"config,omitempty"`
	RetryPolicy   *task.RetryPolicy `json:"retry_policy,omitempty"`
	MaxRetries    *int              `json:"max_retries,omitempty"`
	RetryInterval *int              `json:"retry_interval,omitempty"`
	Timeout       *int              `json:"timeout,omitempty"`
}

// UpdateTask applies a patch, re-validates the merged spec and recomputes
// the next run time when the schedule changed.
func (s *Scheduler) UpdateTask(id string, patch Patch) (*task.Task, error) {
	s.mu.Lock()
	existing, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("update task %s: %w", id, task.ErrTaskNotFound)
	}
	merged := existing.Clone()
	s.mu.Unlock()

	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.Description != nil {
		merged.Description = *patch.Description
	}
	if patch.Priority != nil {
		merged.Priority = *patch.Priority
	}
	if patch.Schedule != nil {
		merged.Schedule = *patch.Schedule
	}
	if patch.Platforms != nil {
		merged.Platforms = slices.Clone(patch.Platforms)
	}
	if patch.Config != nil {
		merged.Config = patch.Config
	}
	if patch.RetryPolicy != nil {
		merged.RetryPolicy = *patch.RetryPolicy
	}
	if patch.MaxRetries != nil {
		merged.MaxRetries = *patch.MaxRetries
	}
	if patch.RetryInterval != nil {
		merged.RetryInterval = *patch.RetryInterval
	}
	if patch.Timeout != nil {
		merged.Timeout = *patch.Timeout
	}

	if err := s.registry.ValidateSpec(merged); err != nil {
		return nil, err
	}
	if patch.Schedule != nil {
		next, err := task.NextRunTime(merged.Schedule, s.clock())
		if err != nil {
			return nil, err
		}
		merged.NextRun = &next
	}

	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("update task %s: %w", id, task.ErrTaskNotFound)
	}
	s.tasks[id] = merged
	s.mu.Unlock()

	s.emitter.Emit(events.Event{Type: events.TaskUpdated, TaskID: id, Task: merged.Clone()})
	return merged.Clone(), nil
}

// SetDependencies replaces the task's dependency list, all-or-nothing.
func (s *Scheduler) SetDependencies(id string, depIDs []string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set dependencies for %s: %w", id, task.ErrTaskNotFound)
	}
	for _, depID := range depIDs {
		if _, ok := s.tasks[depID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("dependency %s: %w", depID, task.ErrTaskNotFound)
		}
	}
	s.mu.Unlock()

	if err := s.graph.SetDependencies(id, depIDs); err != nil {
		return err
	}

	s.mu.Lock()
	t.Dependencies = slices.Clone(depIDs)
	updated := t.Clone()
	s.mu.Unlock()

	s.emitter.Emit(events.Event{Type: events.TaskUpdated, TaskID: id, Task: updated})
	return nil
}

// DeleteTask stops the task if running, removes its timers and drops it
// from the table and the dependency graph.
func (s *Scheduler) DeleteTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete task %s: %w", id, task.ErrTaskNotFound)
	}
	running := t.Status == task.StatusRunning
	s.mu.Unlock()

	if running {
		if err := s.StopTask(id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	deleted := t.Clone()
	delete(s.tasks, id)
	delete(s.lastDispatch, id)
	if timer, ok := s.retryTimers[id]; ok {
		timer.Stop()
		delete(s.retryTimers, id)
	}
	s.mu.Unlock()

	s.graph.ClearDependencies(id)
	for _, dependent := range s.graph.DependentsOf(id) {
		s.graph.Remove(dependent, id)
	}

	s.logger.Info("task deleted", "task_id", id)
	s.emitter.Emit(events.Event{Type: events.TaskDeleted, TaskID: id, Task: deleted})
	return nil
}

// ExecuteTask runs a task immediately and synchronously, subject to the
// same dependency and concurrency checks as the dispatch loop. It returns
// the runner's result.
func (s *Scheduler) ExecuteTask(ctx context.Context, id string) (any, error) {
	t, exec, runCtx, cancel, err := s.beginExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.run(runCtx, cancel, t, exec)
}

// launch begins the execution synchronously so cap and gating decisions
// are deterministic, then runs the task body in a goroutine.
func (s *Scheduler) launch(ctx context.Context, id string) error {
	t, exec, runCtx, cancel, err := s.beginExecution(ctx, id)
	if err != nil {
		return err
	}
	go func() {
		if _, err := s.run(runCtx, cancel, t, exec); err != nil {
			s.logger.Error("task execution failed", "task_id", t.ID, "err", err)
		}
	}()
	return nil
}

// beginExecution performs the admission checks under the lock: the task
// must exist, every direct dependency must be completed, and the running
// set must be below the cap. On success the task is marked running and an
// execution record is opened.
func (s *Scheduler) beginExecution(ctx context.Context, id string) (*task.Task, *task.Execution, context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, nil, nil, nil, fmt.Errorf("execute task %s: %w", id, task.ErrTaskNotFound)
	}

	statuses := make(map[string]task.Status, len(s.tasks))
	for tid, tt := range s.tasks {
		statuses[tid] = tt.Status
	}
	s.mu.Unlock()

	if ok, pending := s.graph.CanExecute(id, statuses); !ok {
		return nil, nil, nil, nil, &task.DependencyNotSatisfiedError{TaskID: id, Pending: pending}
	}

	s.mu.Lock()

	if _, stillThere := s.tasks[id]; !stillThere {
		s.mu.Unlock()
		return nil, nil, nil, nil, fmt.Errorf("execute task %s: %w", id, task.ErrTaskNotFound)
	}
	if len(s.running) >= s.maxConcurrent {
		s.mu.Unlock()
		return nil, nil, nil, nil, &task.ConcurrencyLimitError{Limit: s.maxConcurrent}
	}
	if _, already := s.running[id]; already {
		s.mu.Unlock()
		return nil, nil, nil, nil, fmt.Errorf("task %s is already running", id)
	}

	now := s.clock()
	t.Status = task.StatusRunning
	lastRun := now
	t.LastRun = &lastRun
	t.Progress = 0
	s.lastDispatch[id] = now

	exec := &task.Execution{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		TaskName:  t.Name,
		TaskType:  t.Type,
		Platforms: slices.Clone(t.Platforms),
		StartTime: now,
		Status:    task.StatusRunning,
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(t.Timeout)*time.Minute)
	s.running[id] = &runState{exec: exec, cancel: cancel}
	taskCopy := t.Clone()
	execCopy := exec.Clone()
	s.mu.Unlock()

	s.logger.Info("task started", "task_id", t.ID, "execution_id", exec.ID)
	s.emitter.Emit(events.Event{Type: events.TaskStarted, TaskID: t.ID, Task: taskCopy, Execution: execCopy})
	return t, exec, runCtx, cancel, nil
}

// run invokes the task's runner and finalizes the execution.
func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, t *task.Task, exec *task.Execution) (any, error) {
	defer cancel()

	s.mu.Lock()
	runner, ok := s.runners[t.Type]
	s.mu.Unlock()
	if !ok {
		err := fmt.Errorf("no runner registered for task type %q", t.Type)
		s.finalizeFailure(t.ID, exec, err)
		return nil, err
	}

	reporter := &execReporter{s: s, taskID: t.ID, execID: exec.ID}
	result, err := runner.Run(ctx, t.Clone(), reporter)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("task timed out after %dm: %w", t.Timeout, err)
		}
		s.finalizeFailure(t.ID, exec, err)
		return nil, err
	}

	s.finalizeSuccess(t.ID, exec, result)
	return result, nil
}

func (s *Scheduler) finalizeSuccess(id string, exec *task.Execution, result any) {
	now := s.clock()

	s.mu.Lock()
	state, running := s.running[id]
	if !running || state.finalized {
		s.mu.Unlock()
		return
	}
	state.finalized = true
	delete(s.running, id)

	end := now
	exec.EndTime = &end
	exec.Duration = now.Sub(exec.StartTime)
	exec.Status = task.StatusCompleted
	exec.Result = result

	t, ok := s.tasks[id]
	var taskCopy *task.Task
	if ok {
		t.Status = task.StatusCompleted
		t.LastRunDuration = exec.Duration
		t.RunCount++
		t.Progress = 100
		t.ErrorCount = 0
		s.rescheduleLocked(t, now)
		taskCopy = t.Clone()
	}
	execCopy := exec.Clone()
	s.mu.Unlock()

	s.logger.Info("task completed", "task_id", id, "duration", exec.Duration.String())
	s.emitter.Emit(events.Event{Type: events.TaskCompleted, TaskID: id, Task: taskCopy, Execution: execCopy})
}

func (s *Scheduler) finalizeFailure(id string, exec *task.Execution, runErr error) {
	now := s.clock()

	s.mu.Lock()
	state, running := s.running[id]
	if !running || state.finalized {
		s.mu.Unlock()
		return
	}
	state.finalized = true
	delete(s.running, id)

	end := now
	exec.EndTime = &end
	exec.Duration = now.Sub(exec.StartTime)
	exec.Status = task.StatusFailed
	exec.Error = runErr.Error()

	t, ok := s.tasks[id]
	var taskCopy *task.Task
	retry := false
	var delay time.Duration
	if ok {
		t.Status = task.StatusFailed
		t.LastRunDuration = exec.Duration
		t.ErrorCount++
		if shouldRetry(t) {
			retry = true
			delay = RetryDelay(t.RetryPolicy, t.RetryInterval, t.ErrorCount-1)
		}
		taskCopy = t.Clone()
	}
	execCopy := exec.Clone()
	s.mu.Unlock()

	s.logger.Error("task failed", "task_id", id, "err", runErr)
	s.emitter.Emit(events.Event{Type: events.TaskFailed, TaskID: id, Task: taskCopy, Execution: execCopy, Error: runErr.Error()})

	if retry {
		s.scheduleRetry(id, delay)
	}
}

// shouldRetry permits exactly MaxRetries automatic retries; the failure
// that just ran has already been counted.
func shouldRetry(t *task.Task) bool {
	if t.RetryPolicy == task.RetryNone {
		return false
	}
	return t.ErrorCount <= t.MaxRetries
}

// RetryDelay computes the wait before retry number errorCount (zero-based):
// fixed policy always waits RetryInterval minutes, exponential doubles the
// base per prior failure.
func RetryDelay(policy task.RetryPolicy, retryIntervalMinutes, errorCount int) time.Duration {
	base := time.Duration(retryIntervalMinutes) * time.Minute
	switch policy {
	case task.RetryExponential:
		return base * (1 << errorCount)
	default:
		return base
	}
}

// scheduleRetry flips the task back to pending after the delay, provided
// it is still failed by then.
func (s *Scheduler) scheduleRetry(id string, delay time.Duration) {
	s.mu.Lock()
	if timer, ok := s.retryTimers[id]; ok {
		timer.Stop()
	}
	s.retryTimers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retryTimers, id)
		t, ok := s.tasks[id]
		if !ok || t.Status != task.StatusFailed {
			s.mu.Unlock()
			return
		}
		t.Status = task.StatusPending
		delete(s.lastDispatch, id)
		taskCopy := t.Clone()
		s.mu.Unlock()

		s.logger.Info("task retry scheduled", "task_id", id, "delay", delay.String())
		s.emitter.Emit(events.Event{Type: events.TaskRetryScheduled, TaskID: id, Task: taskCopy, RetryDelay: delay})
	})
	s.mu.Unlock()
}

// rescheduleLocked computes the next occurrence for recurring schedules;
// one-shot tasks stay completed.
func (s *Scheduler) rescheduleLocked(t *task.Task, now time.Time) {
	switch t.Schedule.Type {
	case task.ScheduleDaily, task.ScheduleWeekly, task.ScheduleMonthly, task.ScheduleCustom:
		if next, err := task.NextRunTime(t.Schedule, now); err == nil {
			t.NextRun = &next
			t.Status = task.StatusPending
		}
	default:
		next := now
		t.NextRun = &next
	}
}

// StopTask cancels a running task. The task ends up paused and the
// execution is recorded as cancelled.
func (s *Scheduler) StopTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("stop task %s: %w", id, task.ErrTaskNotFound)
	}
	if t.Status != task.StatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("task %s is not running", id)
	}

	state := s.running[id]
	now := s.clock()
	t.Status = task.StatusPaused

	var execCopy *task.Execution
	if state != nil && !state.finalized {
		state.finalized = true
		delete(s.running, id)
		end := now
		state.exec.EndTime = &end
		state.exec.Duration = now.Sub(state.exec.StartTime)
		state.exec.Status = task.StatusCancelled
		state.exec.Error = "task stopped manually"
		execCopy = state.exec.Clone()
	}
	taskCopy := t.Clone()
	s.mu.Unlock()

	if state != nil {
		state.cancel()
	}
	s.logger.Info("task stopped", "task_id", id)
	s.emitter.Emit(events.Event{Type: events.TaskStopped, TaskID: id, Task: taskCopy, Execution: execCopy})
	return nil
}

// PauseTask stops the task if running and parks it as paused. Pausing a
// paused task is a no-op.
func (s *Scheduler) PauseTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("pause task %s: %w", id, task.ErrTaskNotFound)
	}
	if t.Status == task.StatusPaused {
		s.mu.Unlock()
		return nil
	}
	running := t.Status == task.StatusRunning
	s.mu.Unlock()

	if running {
		if err := s.StopTask(id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	t.Status = task.StatusPaused
	taskCopy := t.Clone()
	s.mu.Unlock()

	s.emitter.Emit(events.Event{Type: events.TaskPaused, TaskID: id, Task: taskCopy})
	return nil
}

// ResumeTask returns a paused task to pending. Resuming a task that is not
// paused is a no-op.
func (s *Scheduler) ResumeTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("resume task %s: %w", id, task.ErrTaskNotFound)
	}
	if t.Status != task.StatusPaused {
		s.mu.Unlock()
		return nil
	}
	t.Status = task.StatusPending
	delete(s.lastDispatch, id)
	taskCopy := t.Clone()
	s.mu.Unlock()

	s.emitter.Emit(events.Event{Type: events.TaskResumed, TaskID: id, Task: taskCopy})
	return nil
}

// UpdateProgress clamps and records a task's progress percentage.
func (s *Scheduler) UpdateProgress(id string, percent int) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update progress for %s: %w", id, task.ErrTaskNotFound)
	}
	t.Progress = task.ClampProgress(percent)
	clamped := t.Progress
	s.mu.Unlock()

	s.emitter.Emit(events.Event{Type: events.TaskProgressUpdated, TaskID: id, Progress: clamped})
	return nil
}

// Filter narrows task listings; zero fields match everything.
type Filter struct {
	Status   task.Status
	Type     task.Type
	Platform task.Platform
}

// Tasks returns copies of matching tasks ordered by creation time.
func (s *Scheduler) Tasks(f Filter) []*task.Task {
	s.mu.Lock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Platform != "" && !slices.Contains(t.Platforms, f.Platform) {
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetTask returns a copy of one task.
func (s *Scheduler) GetTask(id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, task.ErrTaskNotFound)
	}
	return t.Clone(), nil
}

// TaskStatuses snapshots every task's status.
func (s *Scheduler) TaskStatuses() map[string]task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]task.Status, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t.Status
	}
	return out
}

// RunningExecutions returns copies of the currently open executions.
func (s *Scheduler) RunningExecutions() []*task.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Execution, 0, len(s.running))
	for _, state := range s.running {
		out = append(out, state.exec.Clone())
	}
	return out
}

// Counts summarizes the task table by status.
type Counts struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Paused    int `json:"paused"`
}

// TaskCounts tallies tasks by status.
func (s *Scheduler) TaskCounts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch t.Status {
		case task.StatusRunning:
			c.Running++
		case task.StatusPending:
			c.Pending++
		case task.StatusCompleted:
			c.Completed++
		case task.StatusFailed:
			c.Failed++
		case task.StatusPaused:
			c.Paused++
		}
	}
	return c
}

func applyDefaults(t *task.Task) {
	if t.Priority == "" {
		t.Priority = task.PriorityMedium
	}
	if t.RetryPolicy == "" {
		t.RetryPolicy = task.RetryFixed
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
	if t.RetryInterval == 0 {
		t.RetryInterval = 5
	}
	if t.Timeout == 0 {
		t.Timeout = 30
	}
	if t.Config == nil {
		t.Config = map[string]any{}
	}
	if t.Schedule.Type == "" {
		t.Schedule.Type = task.ScheduleImmediate
	}
}

// execReporter routes runner logs and progress back into the scheduler.
type execReporter struct {
	s      *Scheduler
	taskID string
	execID string
}

func (r *execReporter) Log(message string) {
	entry := task.LogEntry{Timestamp: r.s.clock(), Level: "INFO", Message: message}

	r.s.mu.Lock()
	if state, ok := r.s.running[r.taskID]; ok && state.exec.ID == r.execID {
		state.exec.Logs = append(state.exec.Logs, entry)
	}
	r.s.mu.Unlock()

	r.s.emitter.Emit(events.Event{Type: events.TaskLogAdded, TaskID: r.taskID, Log: &entry})
}

func (r *execReporter) SetProgress(percent int) {
	_ = r.s.UpdateProgress(r.taskID, percent)
}
