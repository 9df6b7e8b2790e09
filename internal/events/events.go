package events

import (
	"sync"
	"time"

	"github.com/maxkimambo/dagrun/internal/logger"
)

// EventType names a task or worker lifecycle transition.
type EventType string

const (
	TaskReady      EventType = "task_ready"
	TaskDispatched EventType = "task_dispatched"
	TaskCompleted  EventType = "task_completed"
	TaskFailed     EventType = "task_failed"
	TaskBlocked    EventType = "task_blocked"
	TaskRetry      EventType = "task_retry"
	CycleRejected  EventType = "cycle_rejected"

	WorkerFailed    EventType = "worker_failed"
	WorkerRecovered EventType = "worker_recovered"
)

// AllTypes lists every event type the engine emits.
var AllTypes = []EventType{
	TaskReady, TaskDispatched, TaskCompleted, TaskFailed, TaskBlocked, TaskRetry,
	CycleRejected, WorkerFailed, WorkerRecovered,
}

// NoWorker is the WorkerID of events not tied to a worker.
const NoWorker = -1

// Event is a single lifecycle notification.
type Event struct {
	Type      EventType              `json:"type"`
	TaskID    string                 `json:"task_id,omitempty"`
	WorkerID  int                    `json:"worker_id"`
	Attempt   int                    `json:"attempt,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New builds an event stamped with the current UTC time.
func New(t EventType, taskID string) Event {
	return Event{Type: t, TaskID: taskID, WorkerID: NoWorker, Timestamp: time.Now().UTC()}
}

// WithWorker returns a copy bound to a worker.
func (e Event) WithWorker(id int) Event {
	e.WorkerID = id
	return e
}

// WithData returns a copy carrying an extra key.
func (e Event) WithData(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Sink receives lifecycle events. Emit must not block for long; it is called
// from engine goroutines, sometimes while a component lock is held.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// Nop discards everything.
var Nop Sink = nopSink{}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// LogSink writes every event to the operational log at debug level.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	fields := map[string]interface{}{
		"event":   string(e.Type),
		"task_id": e.TaskID,
	}
	if e.WorkerID != NoWorker {
		fields["worker_id"] = e.WorkerID
	}
	if e.Attempt > 0 {
		fields["attempt"] = e.Attempt
	}
	for k, v := range e.Data {
		fields[k] = v
	}
	logger.Op.WithFields(fields).Debug("lifecycle event")
}

// Recorder keeps every event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of one type, in emission order.
func (r *Recorder) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// TaskIDs returns the task ids of recorded events of one type.
func (r *Recorder) TaskIDs(t EventType) []string {
	var ids []string
	for _, e := range r.OfType(t) {
		ids = append(ids, e.TaskID)
	}
	return ids
}
