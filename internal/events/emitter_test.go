package events

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmitter() *Emitter {
	return NewEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	e := newTestEmitter()
	var order []string

	e.On(TaskStarted, func(Event) { order = append(order, "first") })
	e.On(TaskStarted, func(Event) { order = append(order, "second") })
	e.OnAny(func(Event) { order = append(order, "any") })

	e.Emit(Event{Type: TaskStarted, TaskID: "t1"})

	assert.Equal(t, []string{"first", "second", "any"}, order)
}

func TestEmitOnlyMatchingType(t *testing.T) {
	e := newTestEmitter()
	var got []Type

	e.On(TaskCompleted, func(ev Event) { got = append(got, ev.Type) })

	e.Emit(Event{Type: TaskStarted, TaskID: "t1"})
	e.Emit(Event{Type: TaskCompleted, TaskID: "t1"})
	e.Emit(Event{Type: TaskFailed, TaskID: "t1"})

	assert.Equal(t, []Type{TaskCompleted}, got)
}

func TestEmitStampsTime(t *testing.T) {
	e := newTestEmitter()
	var seen Event

	e.On(TaskAdded, func(ev Event) { seen = ev })

	e.Emit(Event{Type: TaskAdded, TaskID: "t1"})
	assert.False(t, seen.Time.IsZero())

	fixed := time.Date(2025, time.June, 18, 10, 0, 0, 0, time.UTC)
	e.Emit(Event{Type: TaskAdded, TaskID: "t1", Time: fixed})
	assert.Equal(t, fixed, seen.Time)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	e := newTestEmitter()
	var delivered int

	e.On(TaskFailed, func(Event) { panic("boom") })
	e.On(TaskFailed, func(Event) { delivered++ })
	e.OnAny(func(Event) { delivered++ })

	require.NotPanics(t, func() {
		e.Emit(Event{Type: TaskFailed, TaskID: "t1"})
	})
	assert.Equal(t, 2, delivered)
}

func TestOnAnySeesEveryType(t *testing.T) {
	e := newTestEmitter()
	var got []Type

	e.OnAny(func(ev Event) { got = append(got, ev.Type) })

	for _, typ := range []Type{TaskAdded, TaskStarted, TaskCompleted, AlertRaised} {
		e.Emit(Event{Type: typ, TaskID: "t1"})
	}

	assert.Equal(t, []Type{TaskAdded, TaskStarted, TaskCompleted, AlertRaised}, got)
}
