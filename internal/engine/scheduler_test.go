package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengguiyouziyi/social-auto-upload/internal/events"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

type runnerFunc func(ctx context.Context, t *task.Task, r Reporter) (any, error)

func (f runnerFunc) Run(ctx context.Context, t *task.Task, r Reporter) (any, error) {
	return f(ctx, t, r)
}

func okRunner() Runner {
	return runnerFunc(func(ctx context.Context, t *task.Task, r Reporter) (any, error) {
		return "ok", nil
	})
}

func failRunner(msg string) Runner {
	return runnerFunc(func(ctx context.Context, t *task.Task, r Reporter) (any, error) {
		return nil, errors.New(msg)
	})
}

// blockingRunner holds executions open until released.
type blockingRunner struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (b *blockingRunner) Run(ctx context.Context, t *task.Task, r Reporter) (any, error) {
	n := b.active.Add(1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	defer b.active.Add(-1)
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func publishSpec(name string) *task.Task {
	return &task.Task{
		Name:        name,
		Description: "publishes a clip",
		Type:        task.TypePublish,
		Platforms:   []task.Platform{task.PlatformDouyin},
		Config: map[string]any{
			"contentType": "video",
			"fileIds":     []any{"f1"},
		},
	}
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(Options{MaxConcurrent: 3})
	s.RegisterRunner(task.TypePublish, okRunner())
	return s
}

func TestAddTaskAppliesDefaults(t *testing.T) {
	s := newTestScheduler(t)

	got, err := s.AddTask(publishSpec("clip of the day"))
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, task.PriorityMedium, got.Priority)
	assert.Equal(t, task.RetryFixed, got.RetryPolicy)
	assert.Equal(t, 3, got.MaxRetries)
	assert.Equal(t, 5, got.RetryInterval)
	assert.Equal(t, 30, got.Timeout)
	require.NotNil(t, got.NextRun)
}

func TestAddTaskCollectsAllViolations(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.AddTask(&task.Task{
		Name:      "x", // too short
		Type:      task.TypePublish,
		Platforms: []task.Platform{task.PlatformSystem}, // unsupported for publish
		Config:    map[string]any{"contentType": "hologram"},
	})

	var verr *task.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Violations), 3)
}

func TestExecuteUnknownTask(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.ExecuteTask(context.Background(), "nope")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestDependencyGating(t *testing.T) {
	s := newTestScheduler(t)

	a, err := s.AddTask(publishSpec("upstream"))
	require.NoError(t, err)
	b, err := s.AddTask(publishSpec("downstream"))
	require.NoError(t, err)
	require.NoError(t, s.SetDependencies(b.ID, []string{a.ID}))

	_, err = s.ExecuteTask(context.Background(), b.ID)
	var depErr *task.DependencyNotSatisfiedError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{a.ID}, depErr.Pending)

	_, err = s.ExecuteTask(context.Background(), a.ID)
	require.NoError(t, err)

	_, err = s.ExecuteTask(context.Background(), b.ID)
	require.NoError(t, err)
}

func TestConcurrencyCapIsDeterministic(t *testing.T) {
	s := New(Options{MaxConcurrent: 2})
	blocker := newBlockingRunner()
	s.RegisterRunner(task.TypePublish, blocker)

	var ids []string
	for i := 0; i < 3; i++ {
		tk, err := s.AddTask(publishSpec(fmt.Sprintf("clip %d", i)))
		require.NoError(t, err)
		ids = append(ids, tk.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids[:2] {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = s.ExecuteTask(context.Background(), id)
		}(id)
	}

	require.Eventually(t, func() bool {
		return len(s.RunningExecutions()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, err := s.ExecuteTask(context.Background(), ids[2])
	var capErr *task.ConcurrencyLimitError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Limit)

	close(blocker.release)
	wg.Wait()
	assert.Empty(t, s.RunningExecutions())
}

func TestDispatchLoopHonorsCap(t *testing.T) {
	s := New(Options{MaxConcurrent: 3, Tick: 10 * time.Millisecond})
	blocker := newBlockingRunner()
	s.RegisterRunner(task.TypePublish, blocker)

	for i := 0; i < 5; i++ {
		_, err := s.AddTask(publishSpec(fmt.Sprintf("clip %d", i)))
		require.NoError(t, err)
	}

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(s.RunningExecutions()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), blocker.peak.Load())

	close(blocker.release)

	require.Eventually(t, func() bool {
		return s.TaskCounts().Completed == 5
	}, 5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, blocker.peak.Load(), int32(3))
}

func TestRetryDelayProgression(t *testing.T) {
	tests := []struct {
		name       string
		policy     task.RetryPolicy
		interval   int
		errorCount int
		want       time.Duration
	}{
		{"fixed first", task.RetryFixed, 1, 0, time.Minute},
		{"fixed later", task.RetryFixed, 1, 3, time.Minute},
		{"exponential first", task.RetryExponential, 1, 0, time.Minute},
		{"exponential second", task.RetryExponential, 1, 1, 2 * time.Minute},
		{"exponential third", task.RetryExponential, 1, 2, 4 * time.Minute},
		{"none falls back to base", task.RetryNone, 5, 0, 5 * time.Minute},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RetryDelay(tc.policy, tc.interval, tc.errorCount))
		})
	}
}

func TestFailureIncrementsErrorCountOnce(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterRunner(task.TypePublish, failRunner("network unreachable"))

	spec := publishSpec("flaky clip")
	spec.RetryPolicy = task.RetryFixed
	spec.RetryInterval = 1
	spec.MaxRetries = 2
	tk, err := s.AddTask(spec)
	require.NoError(t, err)

	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.Error(t, err)

	got, err := s.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestRetryFlipsTaskBackToPending(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterRunner(task.TypePublish, failRunner("boom"))

	spec := publishSpec("retry me")
	spec.RetryPolicy = task.RetryFixed
	spec.RetryInterval = 0 // immediate retry for the test
	spec.MaxRetries = 2
	tk, err := s.AddTask(spec)
	require.NoError(t, err)

	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		got, err := s.GetTask(tk.ID)
		return err == nil && got.Status == task.StatusPending
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetriesStopAtMaxRetries(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterRunner(task.TypePublish, failRunner("boom"))

	spec := publishSpec("give up")
	spec.RetryPolicy = task.RetryFixed
	spec.RetryInterval = 0
	spec.MaxRetries = 1
	tk, err := s.AddTask(spec)
	require.NoError(t, err)

	// first failure: errorCount 1 <= maxRetries, retry scheduled
	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.Error(t, err)
	require.Eventually(t, func() bool {
		got, _ := s.GetTask(tk.ID)
		return got != nil && got.Status == task.StatusPending
	}, 2*time.Second, 10*time.Millisecond)

	// second failure: errorCount 2 > maxRetries, stays failed
	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	got, err := s.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, 2, got.ErrorCount)
}

func TestRetryPolicyNoneNeverRetries(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterRunner(task.TypePublish, failRunner("boom"))

	spec := publishSpec("one shot")
	spec.RetryPolicy = task.RetryNone
	spec.RetryInterval = 0
	tk, err := s.AddTask(spec)
	require.NoError(t, err)

	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	got, err := s.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestStopTaskCancelsAndRecordsCancellation(t *testing.T) {
	s := newTestScheduler(t)
	blocker := newBlockingRunner()
	s.RegisterRunner(task.TypePublish, blocker)

	tk, err := s.AddTask(publishSpec("long running"))
	require.NoError(t, err)

	var stopped *task.Execution
	s.Emitter().On(events.TaskStopped, func(ev events.Event) {
		stopped = ev.Execution
	})

	go func() { _, _ = s.ExecuteTask(context.Background(), tk.ID) }()
	require.Eventually(t, func() bool {
		return len(s.RunningExecutions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.StopTask(tk.ID))

	got, err := s.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPaused, got.Status)
	require.NotNil(t, stopped)
	assert.Equal(t, task.StatusCancelled, stopped.Status)
	assert.Equal(t, "task stopped manually", stopped.Error)
	assert.Empty(t, s.RunningExecutions())
}

func TestStopNonRunningTask(t *testing.T) {
	s := newTestScheduler(t)
	tk, err := s.AddTask(publishSpec("idle"))
	require.NoError(t, err)

	err = s.StopTask(tk.ID)
	assert.ErrorContains(t, err, "not running")
}

func TestPauseResumeAreIdempotent(t *testing.T) {
	s := newTestScheduler(t)
	tk, err := s.AddTask(publishSpec("pausable"))
	require.NoError(t, err)

	require.NoError(t, s.PauseTask(tk.ID))
	require.NoError(t, s.PauseTask(tk.ID)) // no-op
	got, _ := s.GetTask(tk.ID)
	assert.Equal(t, task.StatusPaused, got.Status)

	require.NoError(t, s.ResumeTask(tk.ID))
	require.NoError(t, s.ResumeTask(tk.ID)) // no-op
	got, _ = s.GetTask(tk.ID)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestUpdateProgressClamps(t *testing.T) {
	s := newTestScheduler(t)
	tk, err := s.AddTask(publishSpec("progressing"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateProgress(tk.ID, 150))
	got, _ := s.GetTask(tk.ID)
	assert.Equal(t, 100, got.Progress)

	require.NoError(t, s.UpdateProgress(tk.ID, -10))
	got, _ = s.GetTask(tk.ID)
	assert.Equal(t, 0, got.Progress)
}

func TestEventOrdering(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	var order []events.Type
	s.Emitter().OnAny(func(ev events.Event) {
		mu.Lock()
		order = append(order, ev.Type)
		mu.Unlock()
	})

	tk, err := s.AddTask(publishSpec("observed"))
	require.NoError(t, err)
	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	idx := func(t events.Type) int {
		for i, e := range order {
			if e == t {
				return i
			}
		}
		return -1
	}
	require.GreaterOrEqual(t, idx(events.TaskAdded), 0)
	require.GreaterOrEqual(t, idx(events.TaskStarted), 0)
	require.GreaterOrEqual(t, idx(events.TaskCompleted), 0)
	assert.Less(t, idx(events.TaskAdded), idx(events.TaskStarted))
	assert.Less(t, idx(events.TaskStarted), idx(events.TaskCompleted))
}

func TestCompletionResetsErrorCountAndRecurs(t *testing.T) {
	s := newTestScheduler(t)

	spec := publishSpec("daily digest")
	spec.Schedule = task.Schedule{Type: task.ScheduleDaily, At: "03:00"}
	tk, err := s.AddTask(spec)
	require.NoError(t, err)

	// force it runnable now
	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.NoError(t, err)

	got, err := s.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status) // recurring schedules rearm
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, 0, got.ErrorCount)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(time.Now()))
}

func TestTasksFilter(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.AddTask(publishSpec("clip a"))
	require.NoError(t, err)

	maint := &task.Task{
		Name:        "nightly cleanup",
		Description: "removes stale files",
		Type:        task.TypeMaintenance,
		Platforms:   []task.Platform{task.PlatformSystem},
		Config:      map[string]any{"maintenanceType": "cleanup"},
	}
	_, err = s.AddTask(maint)
	require.NoError(t, err)

	assert.Len(t, s.Tasks(Filter{}), 2)
	assert.Len(t, s.Tasks(Filter{Type: task.TypePublish}), 1)
	assert.Len(t, s.Tasks(Filter{Platform: task.PlatformSystem}), 1)
	assert.Len(t, s.Tasks(Filter{Status: task.StatusPending}), 2)
}

func TestDeleteTaskRemovesEdges(t *testing.T) {
	s := newTestScheduler(t)

	a, err := s.AddTask(publishSpec("upstream"))
	require.NoError(t, err)
	b, err := s.AddTask(publishSpec("downstream"))
	require.NoError(t, err)
	require.NoError(t, s.SetDependencies(b.ID, []string{a.ID}))

	require.NoError(t, s.DeleteTask(a.ID))
	assert.Empty(t, s.Graph().DependenciesOf(b.ID))

	_, err = s.GetTask(a.ID)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestRunnerContextCarriesTimeout(t *testing.T) {
	s := newTestScheduler(t)

	var deadline time.Time
	var hasDeadline bool
	s.RegisterRunner(task.TypePublish, runnerFunc(func(ctx context.Context, tk *task.Task, r Reporter) (any, error) {
		deadline, hasDeadline = ctx.Deadline()
		return nil, nil
	}))

	spec := publishSpec("bounded")
	spec.Timeout = 7
	tk, err := s.AddTask(spec)
	require.NoError(t, err)

	_, err = s.ExecuteTask(context.Background(), tk.ID)
	require.NoError(t, err)
	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(7*time.Minute), deadline, 5*time.Second)
}

func TestSetDependenciesRejectsUnknownTask(t *testing.T) {
	s := newTestScheduler(t)
	a, err := s.AddTask(publishSpec("lonely"))
	require.NoError(t, err)

	err = s.SetDependencies(a.ID, []string{"ghost"})
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}
