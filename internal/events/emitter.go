// Package events delivers scheduler lifecycle events to in-process
// subscribers. Delivery is synchronous and in registration order, so a
// handler observes every transition before the next one is published.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// Type names a scheduler event.
type Type string

const (
	TaskAdded           Type = "task.added"
	TaskUpdated         Type = "task.updated"
	TaskDeleted         Type = "task.deleted"
	TaskStarted         Type = "task.started"
	TaskCompleted       Type = "task.completed"
	TaskFailed          Type = "task.failed"
	TaskStopped         Type = "task.stopped"
	TaskPaused          Type = "task.paused"
	TaskResumed         Type = "task.resumed"
	TaskRetryScheduled  Type = "task.retry_scheduled"
	TaskProgressUpdated Type = "task.progress_updated"
	TaskLogAdded        Type = "task.log_added"
	AlertRaised         Type = "alert.raised"
)

// Event is the payload delivered to handlers. Fields beyond Type, TaskID
// and Time are populated per event type.
type Event struct {
	Type       Type
	Time       time.Time
	TaskID     string
	Task       *task.Task
	Execution  *task.Execution
	Alert      *task.Alert
	Error      string
	Progress   int
	RetryDelay time.Duration
	Log        *task.LogEntry
}

// Handler consumes one event. Handlers must not block; slow consumers
// delay the scheduler.
type Handler func(Event)

// Emitter fans events out to subscribers. A panicking handler is recovered
// and logged without affecting the remaining handlers.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	any      []Handler
	logger   *slog.Logger
}

// NewEmitter returns an emitter logging handler panics to the given logger.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		handlers: make(map[Type][]Handler),
		logger:   logger,
	}
}

// On subscribes a handler to one event type.
func (e *Emitter) On(t Type, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], h)
}

// OnAny subscribes a handler to every event type.
func (e *Emitter) OnAny(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.any = append(e.any, h)
}

// Emit delivers the event synchronously to all matching handlers.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	typed := e.handlers[ev.Type]
	any := e.any
	e.mu.RUnlock()

	for _, h := range typed {
		e.deliver(h, ev)
	}
	for _, h := range any {
		e.deliver(h, ev)
	}
}

func (e *Emitter) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event", string(ev.Type), "task_id", ev.TaskID, "panic", r)
		}
	}()
	h(ev)
}
