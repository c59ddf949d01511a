// Package monitor watches scheduled tasks, evaluates alert rules against
// runtime metrics and keeps a rolling picture of system health.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mengguiyouziyi/social-auto-upload/internal/events"
	"github.com/mengguiyouziyi/social-auto-upload/internal/notify"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

const (
	// DefaultInterval is the metric collection cadence.
	DefaultInterval = 5 * time.Second

	historyCap      = 1000
	alertCap        = 1000
	resolvedAlertGC = 7 * 24 * time.Hour
)

// SystemMetrics is one sample of host resource gauges, in percent.
type SystemMetrics struct {
	Timestamp time.Time `json:"timestamp"`
	CPU       float64   `json:"cpu"`
	Memory    float64   `json:"memory"`
	Disk      float64   `json:"disk"`
}

// SystemSampler produces resource gauges. The production deployment plugs
// in a host-level sampler; the default simulates plausible load.
type SystemSampler interface {
	Sample() SystemMetrics
}

// SimulatedSampler generates randomized gauges for environments without
// host metric access.
type SimulatedSampler struct{}

func (SimulatedSampler) Sample() SystemMetrics {
	return SystemMetrics{
		Timestamp: time.Now(),
		CPU:       20 + rand.Float64()*60,
		Memory:    30 + rand.Float64()*50,
		Disk:      40 + rand.Float64()*30,
	}
}

// PerformanceSnapshot aggregates the watched tasks at one point in time.
type PerformanceSnapshot struct {
	Timestamp            time.Time     `json:"timestamp"`
	TotalTasks           int           `json:"total_tasks"`
	RunningTasks         int           `json:"running_tasks"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	SuccessRate          float64       `json:"success_rate"`
	ErrorRate            float64       `json:"error_rate"`
	Throughput           int           `json:"throughput"`
}

// Options configures a Monitor. Source must return a snapshot of all
// known tasks; the monitor filters to the watched set itself.
type Options struct {
	Logger   *slog.Logger
	Source   func() []*task.Task
	Notifier notify.Notifier
	Emitter  *events.Emitter
	Sampler  SystemSampler
	Interval time.Duration
	Clock    func() time.Time
}

// Monitor evaluates alert rules on a fixed cadence and records system and
// performance history rings.
type Monitor struct {
	logger   *slog.Logger
	source   func() []*task.Task
	notifier notify.Notifier
	emitter  *events.Emitter
	sampler  SystemSampler
	interval time.Duration
	clock    func() time.Time

	mu          sync.RWMutex
	watched     map[string]struct{}
	rules       map[string][]*Rule
	alerts      []*task.Alert
	systemHist  []SystemMetrics
	perfHist    []PerformanceSnapshot
	started     bool
	stopLoop    context.CancelFunc
	loopDone    chan struct{}
	dispatchCtx context.Context
}

// New builds a monitor. Nil options fall back to simulated sampling and a
// no-op notifier.
func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Source == nil {
		opts.Source = func() []*task.Task { return nil }
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoOpNotifier{}
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter(opts.Logger)
	}
	if opts.Sampler == nil {
		opts.Sampler = SimulatedSampler{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Monitor{
		logger:      opts.Logger,
		source:      opts.Source,
		notifier:    opts.Notifier,
		emitter:     opts.Emitter,
		sampler:     opts.Sampler,
		interval:    opts.Interval,
		clock:       opts.Clock,
		watched:     make(map[string]struct{}),
		rules:       make(map[string][]*Rule),
		dispatchCtx: context.Background(),
	}
}

// Start begins the collection loop. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.stopLoop = cancel
	m.loopDone = make(chan struct{})
	m.dispatchCtx = ctx
	m.mu.Unlock()

	m.logger.Info("monitor started", "interval", m.interval)

	go func() {
		defer close(m.loopDone)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Collect()
			}
		}
	}()
}

// Stop halts the collection loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.stopLoop, m.loopDone
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("monitor stopped")
}

// Watch puts a task under monitoring and installs the builtin rules unless
// rules already exist for it.
func (m *Monitor) Watch(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[taskID]; ok {
		return
	}
	m.watched[taskID] = struct{}{}
	if _, ok := m.rules[taskID]; !ok {
		m.rules[taskID] = defaultRules(taskID)
	}
}

// Unwatch removes a task and its rules from monitoring. Raised alerts are
// kept for the audit trail.
func (m *Monitor) Unwatch(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, taskID)
	delete(m.rules, taskID)
}

// Watched reports whether the task is under monitoring.
func (m *Monitor) Watched(taskID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.watched[taskID]
	return ok
}

// AddRule registers a custom alert rule for a task. The condition is
// compiled now; a malformed expression is rejected.
func (m *Monitor) AddRule(taskID string, spec RuleSpec) (*Rule, error) {
	cond, err := ParseCondition(spec.Condition)
	if err != nil {
		return nil, err
	}
	rule := &Rule{
		ID:          spec.ID,
		Name:        spec.Name,
		Condition:   spec.Condition,
		Severity:    spec.Severity,
		Enabled:     true,
		Description: spec.Description,
		Cooldown:    spec.Cooldown,
		cond:        cond,
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Severity == "" {
		rule.Severity = task.SeverityWarning
	}
	if rule.Cooldown <= 0 {
		rule.Cooldown = DefaultCooldown
	}
	if spec.Enabled != nil {
		rule.Enabled = *spec.Enabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[taskID] = append(m.rules[taskID], rule)
	return rule, nil
}

// RemoveRule deletes one rule of a task.
func (m *Monitor) RemoveRule(taskID, ruleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := m.rules[taskID]
	for i, r := range rules {
		if r.ID == ruleID {
			m.rules[taskID] = append(rules[:i], rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetRuleEnabled toggles one rule of a task.
func (m *Monitor) SetRuleEnabled(taskID, ruleID string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules[taskID] {
		if r.ID == ruleID {
			r.Enabled = enabled
			return true
		}
	}
	return false
}

// Rules returns copies of the rules registered for a task.
func (m *Monitor) Rules(taskID string) []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, 0, len(m.rules[taskID]))
	for _, r := range m.rules[taskID] {
		out = append(out, *r)
	}
	return out
}

// Collect runs one monitoring pass: sample the system, snapshot task
// performance and evaluate every enabled rule. The loop calls this on each
// tick; tests call it directly.
func (m *Monitor) Collect() {
	now := m.clock()
	system := m.sampler.Sample()
	system.Timestamp = now

	tasks := m.watchedTasks()
	perf := buildSnapshot(now, tasks)

	m.mu.Lock()
	m.systemHist = appendCapped(m.systemHist, system, historyCap)
	m.perfHist = appendCapped(m.perfHist, perf, historyCap)
	m.mu.Unlock()

	m.evaluateRules(now, system, tasks)
	m.gcResolvedAlerts(now)
}

func (m *Monitor) watchedTasks() []*task.Task {
	m.mu.RLock()
	watched := make(map[string]struct{}, len(m.watched))
	for id := range m.watched {
		watched[id] = struct{}{}
	}
	m.mu.RUnlock()

	var out []*task.Task
	for _, t := range m.source() {
		if _, ok := watched[t.ID]; ok {
			out = append(out, t)
		}
	}
	return out
}

func buildSnapshot(now time.Time, tasks []*task.Task) PerformanceSnapshot {
	snap := PerformanceSnapshot{Timestamp: now, TotalTasks: len(tasks)}

	var totalDuration time.Duration
	var withDuration int
	var totalRuns, totalErrors int
	for _, t := range tasks {
		if t.Status == task.StatusRunning {
			snap.RunningTasks++
		}
		if t.LastRunDuration > 0 {
			totalDuration += t.LastRunDuration
			withDuration++
		}
		totalRuns += t.RunCount
		totalErrors += t.ErrorCount
		if t.LastRun != nil && now.Sub(*t.LastRun) <= time.Hour {
			snap.Throughput++
		}
	}
	if withDuration > 0 {
		snap.AverageExecutionTime = totalDuration / time.Duration(withDuration)
	}
	if totalRuns > 0 {
		snap.SuccessRate = float64(totalRuns-totalErrors) / float64(totalRuns) * 100
	} else {
		snap.SuccessRate = 100
	}
	snap.ErrorRate = 100 - snap.SuccessRate
	return snap
}

func taskContext(t *task.Task, system SystemMetrics) Context {
	ctx := Context{
		ExecutionTime: float64(t.LastRunDuration.Milliseconds()),
		SuccessRate:   100,
		CPU:           system.CPU,
		Memory:        system.Memory,
		Disk:          system.Disk,
	}
	if t.RunCount > 0 {
		ctx.FailureRate = float64(t.ErrorCount) / float64(t.RunCount) * 100
		ctx.SuccessRate = 100 - ctx.FailureRate
	}
	return ctx
}

func (m *Monitor) evaluateRules(now time.Time, system SystemMetrics, tasks []*task.Task) {
	type pending struct {
		alert *task.Alert
	}
	var raised []pending

	m.mu.Lock()
	for _, t := range tasks {
		ctx := taskContext(t, system)
		for _, rule := range m.rules[t.ID] {
			if !rule.Enabled || !rule.cond.Eval(ctx) {
				continue
			}
			if !rule.lastTriggered.IsZero() && now.Sub(rule.lastTriggered) < rule.Cooldown {
				continue
			}
			rule.lastTriggered = now

			alert := &task.Alert{
				ID:        uuid.NewString(),
				RuleID:    rule.ID,
				RuleName:  rule.Name,
				TaskID:    t.ID,
				TaskName:  t.Name,
				Severity:  rule.Severity,
				Message:   fmt.Sprintf("[%s] %s: %s", now.Format("15:04:05"), t.Name, rule.Description),
				Timestamp: now,
			}
			m.alerts = append([]*task.Alert{alert}, m.alerts...)
			raised = append(raised, pending{alert: alert})
		}
	}
	if len(m.alerts) > alertCap {
		m.alerts = m.alerts[:alertCap]
	}
	dispatchCtx := m.dispatchCtx
	m.mu.Unlock()

	for _, p := range raised {
		m.logger.Warn("alert raised",
			"task_id", p.alert.TaskID, "rule", p.alert.RuleName, "severity", string(p.alert.Severity))
		m.emitter.Emit(events.Event{Type: events.AlertRaised, TaskID: p.alert.TaskID, Alert: p.alert})

		alert := p.alert
		go func() {
			ctx, cancel := context.WithTimeout(dispatchCtx, 30*time.Second)
			defer cancel()
			if err := m.notifier.Send(ctx, alert); err != nil {
				m.logger.Error("alert notification failed", "alert_id", alert.ID, "err", err)
			}
		}()
	}
}

// ResolveAlert marks an alert as handled.
func (m *Monitor) ResolveAlert(alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == alertID {
			if !a.Resolved {
				a.Resolved = true
				at := m.clock()
				a.ResolvedAt = &at
			}
			return nil
		}
	}
	return fmt.Errorf("alert %s not found", alertID)
}

func (m *Monitor) gcResolvedAlerts(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Resolved && a.ResolvedAt != nil && now.Sub(*a.ResolvedAt) > resolvedAlertGC {
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
}

// Alerts returns alerts newest-first, optionally only unresolved ones.
func (m *Monitor) Alerts(activeOnly bool) []*task.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*task.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if activeOnly && a.Resolved {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// AlertStats summarizes the alert backlog.
type AlertStats struct {
	Total      int                   `json:"total"`
	Active     int                   `json:"active"`
	Resolved   int                   `json:"resolved"`
	BySeverity map[task.Severity]int `json:"by_severity"`
	ByTask     map[string]int        `json:"by_task"`
	Recent     []*task.Alert         `json:"recent"`
}

// AlertStatistics aggregates the current alert backlog.
func (m *Monitor) AlertStatistics() AlertStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := AlertStats{
		BySeverity: make(map[task.Severity]int),
		ByTask:     make(map[string]int),
	}
	for _, a := range m.alerts {
		stats.Total++
		if a.Resolved {
			stats.Resolved++
		} else {
			stats.Active++
		}
		stats.BySeverity[a.Severity]++
		stats.ByTask[a.TaskID]++
	}
	for _, a := range m.alerts {
		if len(stats.Recent) == 10 {
			break
		}
		cp := *a
		stats.Recent = append(stats.Recent, &cp)
	}
	return stats
}

// Health levels.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// HealthCheck is one component of the health report.
type HealthCheck struct {
	Status  string  `json:"status"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

// Health is the system-wide health report.
type Health struct {
	Overall   string                 `json:"overall"`
	Checks    map[string]HealthCheck `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

func gaugeCheck(name string, value float64) HealthCheck {
	check := HealthCheck{Status: HealthHealthy, Value: value}
	switch {
	case value > 90:
		check.Status = HealthCritical
		check.Message = fmt.Sprintf("%s usage above 90%%", name)
	case value > 80:
		check.Status = HealthWarning
		check.Message = fmt.Sprintf("%s usage above 80%%", name)
	}
	return check
}

// SystemHealth grades the latest samples. Resource gauges degrade above
// 80% and turn critical above 90%; the task error rate degrades above 10%
// and turns critical above 20%.
func (m *Monitor) SystemHealth() Health {
	m.mu.RLock()
	var system SystemMetrics
	if n := len(m.systemHist); n > 0 {
		system = m.systemHist[n-1]
	}
	var perf PerformanceSnapshot
	if n := len(m.perfHist); n > 0 {
		perf = m.perfHist[n-1]
	}
	m.mu.RUnlock()

	health := Health{
		Overall:   HealthHealthy,
		Checks:    make(map[string]HealthCheck),
		Timestamp: m.clock(),
	}
	health.Checks["cpu"] = gaugeCheck("cpu", system.CPU)
	health.Checks["memory"] = gaugeCheck("memory", system.Memory)
	health.Checks["disk"] = gaugeCheck("disk", system.Disk)

	errCheck := HealthCheck{Status: HealthHealthy, Value: perf.ErrorRate}
	switch {
	case perf.ErrorRate > 20:
		errCheck.Status = HealthCritical
		errCheck.Message = "task error rate above 20%"
	case perf.ErrorRate > 10:
		errCheck.Status = HealthWarning
		errCheck.Message = "task error rate above 10%"
	}
	health.Checks["error_rate"] = errCheck

	for _, check := range health.Checks {
		if check.Status == HealthCritical {
			health.Overall = HealthCritical
			break
		}
		if check.Status == HealthWarning {
			health.Overall = HealthWarning
		}
	}
	return health
}

// Status is a point-in-time view of the monitor itself.
type Status struct {
	Running      bool                 `json:"running"`
	WatchedTasks int                  `json:"watched_tasks"`
	ActiveAlerts int                  `json:"active_alerts"`
	TotalAlerts  int                  `json:"total_alerts"`
	System       *SystemMetrics       `json:"system,omitempty"`
	Performance  *PerformanceSnapshot `json:"performance,omitempty"`
}

// Status reports the monitor state and the latest samples.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Running:      m.started,
		WatchedTasks: len(m.watched),
		TotalAlerts:  len(m.alerts),
	}
	for _, a := range m.alerts {
		if !a.Resolved {
			st.ActiveAlerts++
		}
	}
	if n := len(m.systemHist); n > 0 {
		cp := m.systemHist[n-1]
		st.System = &cp
	}
	if n := len(m.perfHist); n > 0 {
		cp := m.perfHist[n-1]
		st.Performance = &cp
	}
	return st
}

// TrendPoint is one hour of aggregated performance samples.
type TrendPoint struct {
	Hour                 string        `json:"hour"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	SuccessRate          float64       `json:"success_rate"`
	Throughput           int           `json:"throughput"`
	Samples              int           `json:"samples"`
}

// PerformanceTrend buckets the performance history by hour over the last
// N hours.
func (m *Monitor) PerformanceTrend(hours int) []TrendPoint {
	if hours <= 0 {
		hours = 24
	}
	cutoff := m.clock().Add(-time.Duration(hours) * time.Hour)

	type agg struct {
		execSum    time.Duration
		rateSum    float64
		throughput int
		count      int
	}
	buckets := make(map[string]*agg)

	m.mu.RLock()
	for _, snap := range m.perfHist {
		if snap.Timestamp.Before(cutoff) {
			continue
		}
		hour := snap.Timestamp.Format("2006-01-02 15:00")
		b, ok := buckets[hour]
		if !ok {
			b = &agg{}
			buckets[hour] = b
		}
		b.execSum += snap.AverageExecutionTime
		b.rateSum += snap.SuccessRate
		if snap.Throughput > b.throughput {
			b.throughput = snap.Throughput
		}
		b.count++
	}
	m.mu.RUnlock()

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]TrendPoint, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		out = append(out, TrendPoint{
			Hour:                 k,
			AverageExecutionTime: b.execSum / time.Duration(b.count),
			SuccessRate:          b.rateSum / float64(b.count),
			Throughput:           b.throughput,
			Samples:              b.count,
		})
	}
	return out
}

func appendCapped[T any](slice []T, v T, limit int) []T {
	slice = append(slice, v)
	if len(slice) > limit {
		slice = slice[len(slice)-limit:]
	}
	return slice
}
