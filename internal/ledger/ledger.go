// Package ledger collects one terminal result per task and summarises them.
package ledger

import (
	"sync"
	"time"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
)

// Outcome is how a task or a single attempt ended
type Outcome string

const (
	Success Outcome = "SUCCESS"
	Failure Outcome = "FAILURE"
	Timeout Outcome = "TIMEOUT"
)

// NoWorker is the WorkerID of attempts that never got a worker
const NoWorker = -1

// Attempt is one try at running a task
type Attempt struct {
	Number   int       `json:"number"`
	Outcome  Outcome   `json:"outcome"`
	WorkerID int       `json:"worker_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Error    string    `json:"error,omitempty"`
}

// Duration is how long the attempt held its worker
func (a Attempt) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// TaskResult is the terminal record of one task
type TaskResult struct {
	TaskID    string      `json:"task_id"`
	Outcome   Outcome     `json:"outcome"`
	Start     time.Time   `json:"start"`
	End       time.Time   `json:"end"`
	WorkerID  int         `json:"worker_id"`
	Result    interface{} `json:"result,omitempty"`
	Err       error       `json:"-"`
	Attempts  []Attempt   `json:"attempts"`
	Permanent bool        `json:"permanent,omitempty"`
}

// Succeeded reports whether the task finished with SUCCESS
func (r TaskResult) Succeeded() bool {
	return r.Outcome == Success
}

// Duration is the wall time from first attempt to final outcome
func (r TaskResult) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// ErrorMessage returns the error detail, or "" on success
func (r TaskResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Ledger is an append-only, concurrency-safe store of task results
type Ledger struct {
	mu      sync.RWMutex
	results []TaskResult
	index   map[string]int
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// Record appends r. Each task id can be recorded once.
func (l *Ledger) Record(r TaskResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.index[r.TaskID]; exists {
		return engerrors.NewDuplicateResultError(r.TaskID)
	}
	r.Attempts = append([]Attempt(nil), r.Attempts...)
	l.index[r.TaskID] = len(l.results)
	l.results = append(l.results, r)
	return nil
}

// Get returns the result recorded for id
func (l *Ledger) Get(id string) (TaskResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return TaskResult{}, false
	}
	return l.results[i], true
}

// Results returns all results in the order they were recorded
func (l *Ledger) Results() []TaskResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]TaskResult(nil), l.results...)
}

// Len returns the number of recorded results
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}
