package chrono

import (
	"sync"
	"time"
)

// EventName is a stable identifier for an emitted event.
type EventName string

const (
	EventTaskClaimed        EventName = "task.claimed"
	EventTaskCompleted      EventName = "task.completed"
	EventTaskFailed         EventName = "task.failed"
	EventTaskRetryScheduled EventName = "task.retry-scheduled"
	EventProcessorStarted   EventName = "processor.started"
	EventProcessorStopped   EventName = "processor.stopped"

	EventChronoStarted     EventName = "chrono.started"
	EventChronoStopped     EventName = "chrono.stopped"
	EventChronoStopAborted EventName = "chrono.stop-aborted"

	EventStatisticsCollected      EventName = "statisticsCollected"
	EventStatisticsCollectedError EventName = "statisticsCollectedError"
)

// Listener receives an event's payload. The concrete type depends on the
// event name — see the Event* payload structs below.
type Listener func(payload any)

// Emitter is a minimal, concurrency-safe callback registry keyed by event
// name — the capability the design notes describe as
// Publisher<EventName, Payload>. Listener add/remove is safe to call from
// inside a listener invoked by Emit.
type Emitter struct {
	mu        sync.Mutex
	listeners map[EventName][]*registration
	seq       uint64
}

type registration struct {
	id   uint64
	fn   Listener
	once bool
}

// On registers fn to run on every future Emit of name, returning an
// unsubscribe function.
func (e *Emitter) On(name EventName, fn Listener) (unsubscribe func()) {
	return e.add(name, fn, false)
}

// Once registers fn to run at most once, on the next Emit of name.
func (e *Emitter) Once(name EventName, fn Listener) (unsubscribe func()) {
	return e.add(name, fn, true)
}

func (e *Emitter) add(name EventName, fn Listener, once bool) func() {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[EventName][]*registration)
	}
	e.seq++
	reg := &registration{id: e.seq, fn: fn, once: once}
	e.listeners[name] = append(e.listeners[name], reg)
	e.mu.Unlock()

	return func() { e.off(name, reg.id) }
}

func (e *Emitter) off(name EventName, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[name]
	for i, r := range regs {
		if r.id == id {
			e.listeners[name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Off removes every listener registered for name.
func (e *Emitter) Off(name EventName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, name)
}

// Emit invokes every listener currently registered for name with payload,
// synchronously and in registration order. Listeners registered via Once
// are removed after this call.
func (e *Emitter) Emit(name EventName, payload any) {
	e.mu.Lock()
	regs := append([]*registration(nil), e.listeners[name]...)
	var remaining []*registration
	for _, r := range e.listeners[name] {
		if !r.once {
			remaining = append(remaining, r)
		}
	}
	if e.listeners == nil {
		e.listeners = make(map[EventName][]*registration)
	}
	e.listeners[name] = remaining
	e.mu.Unlock()

	for _, r := range regs {
		r.fn(payload)
	}
}

// EventTaskClaimedPayload is emitted for EventTaskClaimed.
type EventTaskClaimedPayload struct {
	Task      *Task
	Timestamp time.Time
}

// EventTaskCompletedPayload is emitted for EventTaskCompleted.
type EventTaskCompletedPayload struct {
	Task       *Task
	DurationMS int64
	Timestamp  time.Time
}

// EventTaskFailedPayload is emitted for EventTaskFailed.
type EventTaskFailedPayload struct {
	Task      *Task
	Err       error
	Timestamp time.Time
}

// EventTaskRetryScheduledPayload is emitted for EventTaskRetryScheduled.
type EventTaskRetryScheduledPayload struct {
	Task            *Task
	NextScheduledAt time.Time
	RetryCount      int
	Timestamp       time.Time
}

// EventProcessorLifecyclePayload is emitted for EventProcessorStarted and
// EventProcessorStopped.
type EventProcessorLifecyclePayload struct {
	Kind      string
	Timestamp time.Time
}

// EventChronoLifecyclePayload is emitted for EventChronoStarted,
// EventChronoStopped and EventChronoStopAborted.
type EventChronoLifecyclePayload struct {
	Err       error
	Timestamp time.Time
}

// EventStatisticsCollectedPayload is emitted for EventStatisticsCollected.
type EventStatisticsCollectedPayload struct {
	Statistics map[string]KindStatistics
	Timestamp  time.Time
}

// EventStatisticsCollectedErrorPayload is emitted for
// EventStatisticsCollectedError.
type EventStatisticsCollectedErrorPayload struct {
	Err       error
	Timestamp time.Time
}
