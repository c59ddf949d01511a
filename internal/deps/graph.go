// Package deps maintains the dependency graph between tasks: which task
// must complete before which, cycle rejection, and the derived execution
// order.
package deps

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// Graph is a mutable DAG over task ids. Edges point from a task to the
// tasks it depends on; the reverse index is kept in lockstep. Every
// mutation that could close a cycle is checked and rolled back before it
// becomes visible.
type Graph struct {
	mu         sync.RWMutex
	deps       map[string]map[string]struct{} // task -> its direct dependencies
	dependents map[string]map[string]struct{} // task -> tasks that depend on it
	order      []string                       // cached topological order
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

// Add inserts the edge "taskID depends on depID". Self-edges are rejected
// with *task.SelfDependencyError. If the edge would close a cycle it is
// removed again and *task.CyclicDependencyError names the offending path,
// leaving the graph exactly as it was.
func (g *Graph) Add(taskID, depID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(taskID, depID)
}

func (g *Graph) addLocked(taskID, depID string) error {
	if taskID == depID {
		return &task.SelfDependencyError{TaskID: taskID}
	}

	if g.deps[taskID] == nil {
		g.deps[taskID] = make(map[string]struct{})
	}
	if g.dependents[depID] == nil {
		g.dependents[depID] = make(map[string]struct{})
	}
	g.deps[taskID][depID] = struct{}{}
	g.dependents[depID][taskID] = struct{}{}

	if cycle := findCycle(g.deps); cycle != nil {
		g.removeLocked(taskID, depID)
		return &task.CyclicDependencyError{Cycle: cycle}
	}

	g.refreshOrderLocked()
	return nil
}

// Remove deletes the edge and reports whether it existed. Removing an
// absent edge is a no-op.
func (g *Graph) Remove(taskID, depID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := g.removeLocked(taskID, depID)
	if removed {
		g.refreshOrderLocked()
	}
	return removed
}

func (g *Graph) removeLocked(taskID, depID string) bool {
	set, ok := g.deps[taskID]
	if !ok {
		return false
	}
	if _, ok := set[depID]; !ok {
		return false
	}
	delete(set, depID)
	if rev, ok := g.dependents[depID]; ok {
		delete(rev, taskID)
	}
	return true
}

// SetDependencies replaces a task's dependency list atomically: either all
// edges are installed or the task ends up with none.
func (g *Graph) SetDependencies(taskID string, depIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.clearLocked(taskID)
	for _, depID := range depIDs {
		if err := g.addLocked(taskID, depID); err != nil {
			g.clearLocked(taskID)
			g.refreshOrderLocked()
			return err
		}
	}
	g.refreshOrderLocked()
	return nil
}

// ClearDependencies removes every outgoing edge of a task.
func (g *Graph) ClearDependencies(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearLocked(taskID)
	g.refreshOrderLocked()
}

func (g *Graph) clearLocked(taskID string) {
	for depID := range g.deps[taskID] {
		g.removeLocked(taskID, depID)
	}
}

// DependenciesOf returns the direct dependencies of a task, sorted.
func (g *Graph) DependenciesOf(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.deps[taskID])
}

// DependentsOf returns the tasks that directly depend on taskID, sorted.
func (g *Graph) DependentsOf(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[taskID])
}

// AllDependenciesOf returns the transitive dependency closure of a task.
func (g *Graph) AllDependenciesOf(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return closure(g.deps, taskID)
}

// AllDependentsOf returns every task that transitively depends on taskID.
// This is the impact set of a failure.
func (g *Graph) AllDependentsOf(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return closure(g.dependents, taskID)
}

func closure(adj map[string]map[string]struct{}, start string) []string {
	visited := map[string]struct{}{start: {}}
	var out []string
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range adj[current] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			out = append(out, next)
			stack = append(stack, next)
		}
	}
	slices.Sort(out)
	return out
}

// CanExecute reports whether every direct dependency of taskID is completed
// in the given status map. Pending names the dependencies that block it.
func (g *Graph) CanExecute(taskID string, statuses map[string]task.Status) (bool, []string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var pending []string
	for depID := range g.deps[taskID] {
		if statuses[depID] != task.StatusCompleted {
			pending = append(pending, depID)
		}
	}
	slices.Sort(pending)
	return len(pending) == 0, pending
}

// ExecutionOrder returns a topological order of every task in the graph:
// each task appears after all of its dependencies.
func (g *Graph) ExecutionOrder() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

// ExecutableTasks returns, in execution order, the pending tasks whose
// dependencies are all completed.
func (g *Graph) ExecutableTasks(statuses map[string]task.Status) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for _, id := range g.order {
		if statuses[id] != task.StatusPending {
			continue
		}
		blocked := false
		for depID := range g.deps[id] {
			if statuses[depID] != task.StatusCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) refreshOrderLocked() {
	nodes := make(map[string]struct{})
	var edges []toposort.Edge
	for id, set := range g.deps {
		nodes[id] = struct{}{}
		if len(set) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for depID := range set {
			nodes[depID] = struct{}{}
			edges = append(edges, toposort.Edge{depID, id})
		}
	}
	for id := range g.dependents {
		if _, ok := nodes[id]; !ok {
			nodes[id] = struct{}{}
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		// unreachable: every mutation is cycle-checked before caching
		return
	}
	order := make([]string, 0, len(nodes))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	g.order = order
}

// findCycle runs a DFS with a recursion stack over the adjacency map and
// returns the first cycle found as a path whose first id is repeated last,
// or nil when the graph is acyclic.
func findCycle(adj map[string]map[string]struct{}) []string {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(adj))
	var path []string

	roots := make([]string, 0, len(adj))
	for id := range adj {
		roots = append(roots, id)
	}
	slices.Sort(roots)

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = inStack
		path = append(path, id)

		next := sortedKeys(adj[id])
		for _, dep := range next {
			switch state[dep] {
			case inStack:
				start := slices.Index(path, dep)
				cycle := slices.Clone(path[start:])
				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	for _, id := range roots {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Stats summarizes the shape of the graph.
type Stats struct {
	TotalTasks           int      `json:"total_tasks"`
	TotalDependencies    int      `json:"total_dependencies"`
	AverageDependencies  float64  `json:"average_dependencies"`
	MaxDependencies      int      `json:"max_dependencies"`
	MinDependencies      int      `json:"min_dependencies"`
	TasksWithNoDeps      int      `json:"tasks_with_no_dependencies"`
	MostDependentTasks   []string `json:"most_dependent_tasks"`
	ExecutionOrderLength int      `json:"execution_order_length"`
}

// Stats computes summary statistics over tasks that have (or had) outgoing
// edges registered.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		TotalTasks:           len(g.deps),
		ExecutionOrderLength: len(g.order),
	}
	if len(g.deps) == 0 {
		return s
	}

	first := true
	for _, set := range g.deps {
		n := len(set)
		s.TotalDependencies += n
		if n == 0 {
			s.TasksWithNoDeps++
		}
		if first || n > s.MaxDependencies {
			s.MaxDependencies = n
		}
		if first || n < s.MinDependencies {
			s.MinDependencies = n
		}
		first = false
	}
	s.AverageDependencies = float64(s.TotalDependencies) / float64(len(g.deps))
	for id, set := range g.deps {
		if len(set) == s.MaxDependencies {
			s.MostDependentTasks = append(s.MostDependentTasks, id)
		}
	}
	slices.Sort(s.MostDependentTasks)
	return s
}

// Node is one vertex in the visualization export.
type Node struct {
	ID           string `json:"id"`
	Dependencies int    `json:"dependencies"`
	Dependents   int    `json:"dependents"`
}

// Edge is one dependency edge in the visualization export, pointing from
// the prerequisite to the task that waits on it.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// VisualizationData is the graph flattened for a frontend renderer.
type VisualizationData struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

// Visualization exports every node and edge plus the current stats.
func (g *Graph) Visualization() VisualizationData {
	g.mu.RLock()
	all := make(map[string]struct{})
	for id, set := range g.deps {
		all[id] = struct{}{}
		for depID := range set {
			all[depID] = struct{}{}
		}
	}

	data := VisualizationData{}
	for _, id := range sortedKeys(all) {
		data.Nodes = append(data.Nodes, Node{
			ID:           id,
			Dependencies: len(g.deps[id]),
			Dependents:   len(g.dependents[id]),
		})
	}
	for _, id := range sortedKeys(all) {
		for _, depID := range sortedKeys(g.deps[id]) {
			data.Edges = append(data.Edges, Edge{From: depID, To: id})
		}
	}
	g.mu.RUnlock()

	data.Stats = g.Stats()
	return data
}

// Report is the outcome of a dry-run validation of a proposed dependency
// assignment.
type Report struct {
	Valid                bool     `json:"valid"`
	Errors               []string `json:"errors,omitempty"`
	Warnings             []string `json:"warnings,omitempty"`
	CircularDependencies []string `json:"circular_dependencies,omitempty"`
	MissingTasks         []string `json:"missing_tasks,omitempty"`
}

// Validate checks a proposed full assignment of dependencies without
// touching the live graph. Self-dependencies are reported as warnings and
// skipped; cycles invalidate the proposal. When known is non-nil, ids
// absent from it are reported as missing tasks and invalidate the
// proposal.
func (g *Graph) Validate(proposal map[string][]string, known map[string]bool) Report {
	report := Report{Valid: true}

	scratch := make(map[string]map[string]struct{}, len(proposal))
	missing := make(map[string]struct{})

	ids := make([]string, 0, len(proposal))
	for id := range proposal {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if known != nil && !known[id] {
			missing[id] = struct{}{}
		}
		for _, depID := range proposal[id] {
			if depID == id {
				report.Warnings = append(report.Warnings, fmt.Sprintf("task %s cannot depend on itself", id))
				continue
			}
			if known != nil && !known[depID] {
				missing[depID] = struct{}{}
			}
			if scratch[id] == nil {
				scratch[id] = make(map[string]struct{})
			}
			scratch[id][depID] = struct{}{}
		}
	}

	if cycle := findCycle(scratch); cycle != nil {
		report.Valid = false
		report.CircularDependencies = cycle
		report.Errors = append(report.Errors, (&task.CyclicDependencyError{Cycle: cycle}).Error())
	}
	if len(missing) > 0 {
		report.Valid = false
		report.MissingTasks = sortedKeys(missing)
		report.Errors = append(report.Errors, fmt.Sprintf("unknown tasks: %s", strings.Join(report.MissingTasks, ", ")))
	}
	return report
}

// Cleanup drops tasks whose dependency sets have become empty and returns
// the removed ids.
func (g *Graph) Cleanup() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []string
	for id, set := range g.deps {
		if len(set) == 0 {
			delete(g.deps, id)
			removed = append(removed, id)
		}
	}
	for id, set := range g.dependents {
		if len(set) == 0 {
			delete(g.dependents, id)
		}
	}
	g.refreshOrderLocked()
	slices.Sort(removed)
	return removed
}
