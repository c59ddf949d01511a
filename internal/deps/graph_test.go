package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

func TestAddRejectsSelfDependency(t *testing.T) {
	g := New()
	err := g.Add("a", "a")

	var selfErr *task.SelfDependencyError
	require.ErrorAs(t, err, &selfErr)
	assert.Equal(t, "a", selfErr.TaskID)
	assert.Empty(t, g.DependenciesOf("a"))
}

func TestAddRejectsCycleAndRollsBack(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))
	require.NoError(t, g.Add("c", "b"))

	err := g.Add("a", "c")
	var cycErr *task.CyclicDependencyError
	require.ErrorAs(t, err, &cycErr)
	assert.GreaterOrEqual(t, len(cycErr.Cycle), 2)
	assert.Equal(t, cycErr.Cycle[0], cycErr.Cycle[len(cycErr.Cycle)-1])

	// the rejected edge must leave no trace
	assert.Empty(t, g.DependenciesOf("a"))
	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
	assert.Equal(t, []string{"b"}, g.DependenciesOf("c"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))

	assert.True(t, g.Remove("b", "a"))
	assert.False(t, g.Remove("b", "a"))
	assert.False(t, g.Remove("x", "y"))
	assert.Empty(t, g.DependenciesOf("b"))
	assert.Empty(t, g.DependentsOf("a"))
}

func TestSetDependenciesIsAtomic(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))

	// proposal contains an edge closing a cycle through b -> a
	err := g.SetDependencies("a", []string{"c", "b"})
	var cycErr *task.CyclicDependencyError
	require.ErrorAs(t, err, &cycErr)

	// none of the proposed edges survive, including the valid one
	assert.Empty(t, g.DependenciesOf("a"))
	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
}

func TestSetDependenciesReplaces(t *testing.T) {
	g := New()
	require.NoError(t, g.SetDependencies("c", []string{"a", "b"}))
	require.NoError(t, g.SetDependencies("c", []string{"b"}))

	assert.Equal(t, []string{"b"}, g.DependenciesOf("c"))
	assert.Empty(t, g.DependentsOf("a"))
}

func TestTransitiveClosures(t *testing.T) {
	g := New()
	// d -> c -> b -> a, plus d -> b
	require.NoError(t, g.Add("b", "a"))
	require.NoError(t, g.Add("c", "b"))
	require.NoError(t, g.Add("d", "c"))
	require.NoError(t, g.Add("d", "b"))

	assert.Equal(t, []string{"a", "b", "c"}, g.AllDependenciesOf("d"))
	assert.Equal(t, []string{"b", "c", "d"}, g.AllDependentsOf("a"))
	assert.Equal(t, []string{"c", "d"}, g.AllDependentsOf("b"))
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))
	require.NoError(t, g.Add("c", "b"))
	require.NoError(t, g.Add("d", "b"))

	order := g.ExecutionOrder()
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
	assert.Less(t, pos["b"], pos["d"])
}

func TestCanExecuteRequiresCompletedDependencies(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("c", "a"))
	require.NoError(t, g.Add("c", "b"))

	tests := []struct {
		name    string
		status  map[string]task.Status
		want    bool
		pending []string
	}{
		{
			name:    "all pending",
			status:  map[string]task.Status{"a": task.StatusPending, "b": task.StatusPending},
			want:    false,
			pending: []string{"a", "b"},
		},
		{
			name:    "one running",
			status:  map[string]task.Status{"a": task.StatusCompleted, "b": task.StatusRunning},
			want:    false,
			pending: []string{"b"},
		},
		{
			name:    "one failed",
			status:  map[string]task.Status{"a": task.StatusCompleted, "b": task.StatusFailed},
			want:    false,
			pending: []string{"b"},
		},
		{
			name:   "all completed",
			status: map[string]task.Status{"a": task.StatusCompleted, "b": task.StatusCompleted},
			want:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, pending := g.CanExecute("c", tc.status)
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, tc.pending, pending)
		})
	}
}

func TestExecutableTasksFollowsOrderAndStatus(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))
	require.NoError(t, g.Add("c", "b"))

	statuses := map[string]task.Status{
		"a": task.StatusCompleted,
		"b": task.StatusPending,
		"c": task.StatusPending,
	}
	assert.Equal(t, []string{"b"}, g.ExecutableTasks(statuses))

	statuses["b"] = task.StatusCompleted
	assert.Equal(t, []string{"c"}, g.ExecutableTasks(statuses))
}

func TestValidateDryRunLeavesGraphUntouched(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))

	report := g.Validate(map[string][]string{
		"x": {"y"},
		"y": {"x"},
	}, nil)

	assert.False(t, report.Valid)
	require.NotEmpty(t, report.CircularDependencies)
	assert.Equal(t, report.CircularDependencies[0], report.CircularDependencies[len(report.CircularDependencies)-1])

	// the live graph is unaffected by validation
	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
	assert.Empty(t, g.DependenciesOf("x"))
}

func TestValidateWarnsOnSelfDependency(t *testing.T) {
	g := New()
	report := g.Validate(map[string][]string{"a": {"a", "b"}}, nil)

	assert.True(t, report.Valid)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "cannot depend on itself")
}

func TestValidateReportsMissingTasks(t *testing.T) {
	g := New()
	known := map[string]bool{"a": true, "b": true}
	report := g.Validate(map[string][]string{"a": {"b", "ghost"}}, known)

	assert.False(t, report.Valid)
	assert.Equal(t, []string{"ghost"}, report.MissingTasks)
}

func TestStats(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("c", "a"))
	require.NoError(t, g.Add("c", "b"))
	require.NoError(t, g.Add("b", "a"))

	s := g.Stats()
	assert.Equal(t, 2, s.TotalTasks)
	assert.Equal(t, 3, s.TotalDependencies)
	assert.Equal(t, 2, s.MaxDependencies)
	assert.Equal(t, 1, s.MinDependencies)
	assert.InDelta(t, 1.5, s.AverageDependencies, 0.001)
	assert.Equal(t, []string{"c"}, s.MostDependentTasks)
}

func TestVisualizationExportsNodesAndEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))
	require.NoError(t, g.Add("c", "b"))

	data := g.Visualization()
	require.Len(t, data.Nodes, 3)
	require.Len(t, data.Edges, 2)
	assert.Contains(t, data.Edges, Edge{From: "a", To: "b"})
	assert.Contains(t, data.Edges, Edge{From: "b", To: "c"})
}

func TestCleanupDropsEmptyEntries(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("b", "a"))
	require.True(t, g.Remove("b", "a"))

	removed := g.Cleanup()
	assert.Equal(t, []string{"b"}, removed)
	assert.Equal(t, 0, g.Stats().TotalTasks)
}

// Pipeline shape: fetch -> process -> {publish, archive}.
func TestDiamondPipelineScenario(t *testing.T) {
	g := New()
	require.NoError(t, g.Add("process", "fetch"))
	require.NoError(t, g.Add("publish", "process"))
	require.NoError(t, g.Add("archive", "process"))

	statuses := map[string]task.Status{
		"fetch":   task.StatusPending,
		"process": task.StatusPending,
		"publish": task.StatusPending,
		"archive": task.StatusPending,
	}
	assert.Equal(t, []string{"fetch"}, g.ExecutableTasks(statuses))

	statuses["fetch"] = task.StatusCompleted
	assert.Equal(t, []string{"process"}, g.ExecutableTasks(statuses))

	statuses["process"] = task.StatusCompleted
	got := g.ExecutableTasks(statuses)
	assert.ElementsMatch(t, []string{"publish", "archive"}, got)
}
