// Package backend defines the execution backend the dispatcher drives and
// ships two implementations: Sim, a scripted in-memory backend, and Shell,
// which runs payload commands as local processes.
package backend

import (
	"context"
	"errors"
)

// Handle identifies one started execution
type Handle string

// Status is what Poll reports for a handle
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done reports whether the execution has finished either way
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrWorkerFault marks errors where the executor itself is unhealthy,
	// as opposed to the task failing. The worker is taken out of service.
	ErrWorkerFault = errors.New("worker fault")
	// ErrNotCancellable is returned by Cancel when the backend cannot abort
	ErrNotCancellable = errors.New("execution cannot be cancelled")
	// ErrUnknownHandle is returned for handles the backend does not track
	ErrUnknownHandle = errors.New("unknown handle")
)

// Request is one attempt at running a task
type Request struct {
	TaskID   string
	Attempt  int
	WorkerID int
	Payload  interface{}
}

// Backend runs task payloads. Start must return promptly; completion is
// observed through Poll. FetchResult is called once Poll reports a finished
// status, and returns the task's error when it failed.
type Backend interface {
	Start(ctx context.Context, req Request) (Handle, error)
	Poll(ctx context.Context, h Handle) (Status, error)
	FetchResult(ctx context.Context, h Handle) (interface{}, error)
	Cancel(ctx context.Context, h Handle) error
}
