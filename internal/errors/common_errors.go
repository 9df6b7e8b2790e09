package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Error codes, unique within a category
const (
	CodeGraphCycle          = "001"
	CodeGraphUnknownDep     = "002"
	CodeGraphDuplicate      = "003"
	CodeGraphUnknownTask    = "004"
	CodeGraphCompleted      = "005"
	CodeGraphNotDispatched  = "006"
	CodeGraphInvalidTask    = "007"
	CodeExecTimeout         = "001"
	CodeExecBackend         = "002"
	CodeExecCancelled       = "003"
	CodeMutationRejected    = "001"
	CodePoolNoHealthy       = "001"
	CodePoolUnknownWorker   = "002"
	CodePoolWorkerState     = "003"
	CodeLedgerDuplicate     = "001"
	CodeConfigInvalid       = "001"
	CodeOrchestrationCrit   = "001"
	CodeOrchestrationStall  = "002"
	CodeOrchestrationCancel = "003"
	CodeOrchestrationReuse  = "004"
)

func NewCycleError(cycle []string) *EngineError {
	e := New(ErrorCategoryGraph, CodeGraphCycle, ErrCycleDetected,
		fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")),
		"Cycle check").
		WithHint("Remove one of the dependencies on the reported path")
	e.Cycle = append([]string(nil), cycle...)
	return e
}

func NewUnknownDependencyError(taskID, dep string) *EngineError {
	return New(ErrorCategoryGraph, CodeGraphUnknownDep, ErrUnknownDependency,
		fmt.Sprintf("task %q depends on unknown task %q", taskID, dep),
		"Task insertion").
		WithContext("task", taskID).
		WithContext("dependency", dep).
		WithHint("Declare the dependency in the same batch or before the dependent task")
}

func NewDuplicateTaskError(taskID string) *EngineError {
	return New(ErrorCategoryGraph, CodeGraphDuplicate, ErrDuplicateTask,
		fmt.Sprintf("task %q already exists", taskID),
		"Task insertion").
		WithContext("task", taskID)
}

func NewUnknownTaskError(taskID, operation string) *EngineError {
	return New(ErrorCategoryGraph, CodeGraphUnknownTask, ErrUnknownTask,
		fmt.Sprintf("task %q is not tracked", taskID),
		operation).
		WithContext("task", taskID)
}

func NewAlreadyCompletedError(taskID, state, operation string) *EngineError {
	return New(ErrorCategoryGraph, CodeGraphCompleted, ErrAlreadyCompleted,
		fmt.Sprintf("task %q is already %s", taskID, state),
		operation).
		WithContext("task", taskID).
		WithContext("state", state)
}

func NewNotDispatchedError(taskID, state, operation string) *EngineError {
	return New(ErrorCategoryGraph, CodeGraphNotDispatched, ErrNotDispatched,
		fmt.Sprintf("task %q has not been handed out (state %s)", taskID, state),
		operation).
		WithContext("task", taskID).
		WithContext("state", state)
}

func NewInvalidTaskError(taskID, message string) *EngineError {
	return New(ErrorCategoryGraph, CodeGraphInvalidTask, ErrInvalidTask,
		message,
		"Task insertion").
		WithContext("task", taskID)
}

func NewTimeoutError(taskID string, attempt int, timeout time.Duration) *EngineError {
	return New(ErrorCategoryExecution, CodeExecTimeout, ErrTimeout,
		fmt.Sprintf("attempt %d exceeded %s", attempt, timeout),
		"Task execution").
		WithContext("task", taskID)
}

func NewBackendError(taskID string, attempt int, cause error) *EngineError {
	return New(ErrorCategoryExecution, CodeExecBackend, ErrBackendFailure,
		fmt.Sprintf("attempt %d failed", attempt),
		"Task execution").
		WithContext("task", taskID).
		WithCause(cause)
}

func NewCancelledError(taskID string, cause error) *EngineError {
	return New(ErrorCategoryExecution, CodeExecCancelled, ErrCancelled,
		"execution cancelled",
		"Task execution").
		WithContext("task", taskID).
		WithCause(cause)
}

func NewMutationRejectedError(cause error) *EngineError {
	return New(ErrorCategoryMutation, CodeMutationRejected, ErrConcurrentMutationRejected,
		"another graph mutation is in flight",
		"Graph mutation").
		WithCause(cause).
		WithHint("Retry the proposal once the current mutation commits")
}

func NewNoHealthyWorkersError(capacity int) *EngineError {
	return New(ErrorCategoryPool, CodePoolNoHealthy, ErrNoHealthyWorkers,
		fmt.Sprintf("all %d workers are failed", capacity),
		"Worker acquisition").
		WithContext("capacity", capacity).
		WithHint("Recover failed workers before dispatching more work")
}

func NewUnknownWorkerError(workerID int) *EngineError {
	return New(ErrorCategoryPool, CodePoolUnknownWorker, ErrUnknownWorker,
		fmt.Sprintf("worker %d does not exist", workerID),
		"Worker lifecycle").
		WithContext("worker", workerID)
}

func NewWorkerStateError(workerID int, state, operation string) *EngineError {
	return New(ErrorCategoryPool, CodePoolWorkerState, ErrInvalidWorkerState,
		fmt.Sprintf("worker %d is %s", workerID, state),
		operation).
		WithContext("worker", workerID)
}

func NewDuplicateResultError(taskID string) *EngineError {
	return New(ErrorCategoryLedger, CodeLedgerDuplicate, ErrDuplicateResult,
		fmt.Sprintf("result for task %q already recorded", taskID),
		"Result recording").
		WithContext("task", taskID)
}

func NewConfigError(field, message string) *EngineError {
	return New(ErrorCategoryConfiguration, CodeConfigInvalid, ErrInvalidConfig,
		message,
		"Configuration validation").
		WithContext("field", field)
}

func NewCriticalTaskError(taskID string) *EngineError {
	return New(ErrorCategoryOrchestration, CodeOrchestrationCrit, ErrCriticalTaskFailed,
		fmt.Sprintf("critical task %q did not succeed", taskID),
		"Orchestration").
		WithContext("task", taskID)
}

func NewStalledError(pending []string) *EngineError {
	return New(ErrorCategoryOrchestration, CodeOrchestrationStall, ErrStalled,
		"no task is ready or running but work remains",
		"Orchestration").
		WithContext("pending", pending)
}

func NewRunCancelledError(cause error) *EngineError {
	return New(ErrorCategoryOrchestration, CodeOrchestrationCancel, ErrCancelled,
		"run cancelled before all tasks finished",
		"Orchestration").
		WithCause(cause)
}

func NewAlreadyStartedError() *EngineError {
	return New(ErrorCategoryOrchestration, CodeOrchestrationReuse, ErrAlreadyStarted,
		"an orchestrator runs its graph once",
		"Orchestration").
		WithHint("Create a new orchestrator for another run")
}

// retryMark forces a classification regardless of the error text
type retryMark struct {
	err       error
	permanent bool
}

func (m *retryMark) Error() string { return m.err.Error() }
func (m *retryMark) Unwrap() error { return m.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &retryMark{err: err, permanent: true}
}

// Transient marks err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &retryMark{err: err}
}

// MarkedRetryable reports an explicit mark. ok is false when err carries none.
func MarkedRetryable(err error) (retryable, ok bool) {
	var m *retryMark
	if stderrors.As(err, &m) {
		return !m.permanent, true
	}
	return false, false
}
