// Package metrics exposes scheduler counters and histograms in Prometheus
// format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mengguiyouziyi/social-auto-upload/internal/events"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// Metrics holds the Prometheus collectors for the scheduler.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	RunningTasks      prometheus.Gauge
	ExecutionDuration *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	TasksTotal        prometheus.Gauge
}

// New registers the collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sau_executions_total",
			Help: "Finished task executions by type and outcome.",
		}, []string{"type", "status"}),
		RunningTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sau_running_tasks",
			Help: "Number of currently running tasks.",
		}),
		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sau_execution_duration_seconds",
			Help:    "Task execution duration by type.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"type"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sau_retries_total",
			Help: "Scheduled retries by task type.",
		}, []string{"type"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sau_alerts_total",
			Help: "Raised alerts by severity.",
		}, []string{"severity"}),
		TasksTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sau_tasks_total",
			Help: "Number of registered tasks.",
		}),
	}
}

// Observe wires the collectors to scheduler events. taskCount is polled on
// every task lifecycle event to keep the registered-task gauge current.
func (m *Metrics) Observe(emitter *events.Emitter, taskCount func() int) {
	refreshTasks := func(events.Event) { m.TasksTotal.Set(float64(taskCount())) }

	emitter.On(events.TaskAdded, refreshTasks)
	emitter.On(events.TaskDeleted, refreshTasks)

	emitter.On(events.TaskStarted, func(ev events.Event) {
		m.RunningTasks.Inc()
	})
	emitter.On(events.TaskCompleted, func(ev events.Event) {
		m.RunningTasks.Dec()
		m.observeFinished(ev, string(task.StatusCompleted))
	})
	emitter.On(events.TaskFailed, func(ev events.Event) {
		m.RunningTasks.Dec()
		m.observeFinished(ev, string(task.StatusFailed))
	})
	emitter.On(events.TaskStopped, func(ev events.Event) {
		m.RunningTasks.Dec()
		m.observeFinished(ev, string(task.StatusCancelled))
	})
	emitter.On(events.TaskRetryScheduled, func(ev events.Event) {
		if ev.Task != nil {
			m.RetriesTotal.WithLabelValues(string(ev.Task.Type)).Inc()
		}
	})
	emitter.On(events.AlertRaised, func(ev events.Event) {
		if ev.Alert != nil {
			m.AlertsTotal.WithLabelValues(string(ev.Alert.Severity)).Inc()
		}
	})
}

func (m *Metrics) observeFinished(ev events.Event, status string) {
	if ev.Execution == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(string(ev.Execution.TaskType), status).Inc()
	if ev.Execution.Duration > 0 {
		m.ExecutionDuration.WithLabelValues(string(ev.Execution.TaskType)).Observe(ev.Execution.Duration.Seconds())
	}
}
