package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory groups errors by the component that raised them
type ErrorCategory string

const (
	// ErrorCategoryGraph covers insertion, build and completion bookkeeping
	ErrorCategoryGraph ErrorCategory = "GRAPH"
	// ErrorCategoryExecution covers backend attempts; never escapes the dispatcher
	ErrorCategoryExecution ErrorCategory = "EXECUTION"
	// ErrorCategoryMutation covers runtime graph changes
	ErrorCategoryMutation ErrorCategory = "MUTATION"
	// ErrorCategoryPool covers worker acquisition and lifecycle
	ErrorCategoryPool ErrorCategory = "POOL"
	// ErrorCategoryLedger covers result recording
	ErrorCategoryLedger ErrorCategory = "LEDGER"
	// ErrorCategoryConfiguration covers configuration and task file input
	ErrorCategoryConfiguration ErrorCategory = "CONFIGURATION"
	// ErrorCategoryOrchestration covers run-level termination
	ErrorCategoryOrchestration ErrorCategory = "ORCHESTRATION"
)

// Sentinels. Every *EngineError wraps exactly one of them, so callers
// match with errors.Is.
var (
	ErrCycleDetected     = stderrors.New("cycle detected")
	ErrUnknownDependency = stderrors.New("unknown dependency")
	ErrDuplicateTask     = stderrors.New("duplicate task")
	ErrUnknownTask       = stderrors.New("unknown task")
	ErrAlreadyCompleted  = stderrors.New("task already completed")
	ErrNotDispatched     = stderrors.New("task not dispatched")
	ErrInvalidTask       = stderrors.New("invalid task")

	ErrTimeout        = stderrors.New("attempt timed out")
	ErrBackendFailure = stderrors.New("backend failure")
	ErrCancelled      = stderrors.New("cancelled")

	ErrConcurrentMutationRejected = stderrors.New("concurrent mutation rejected")

	ErrNoHealthyWorkers   = stderrors.New("no healthy workers")
	ErrUnknownWorker      = stderrors.New("unknown worker")
	ErrInvalidWorkerState = stderrors.New("invalid worker state")

	ErrDuplicateResult = stderrors.New("duplicate result")

	ErrInvalidConfig = stderrors.New("invalid configuration")

	ErrCriticalTaskFailed = stderrors.New("critical task failed")
	ErrStalled            = stderrors.New("run stalled")
	ErrAlreadyStarted     = stderrors.New("run already started")
)

// EngineError is a structured error with context and resolution hints
type EngineError struct {
	Category  ErrorCategory
	Code      string
	Kind      error
	Message   string
	Operation string
	Context   map[string]interface{}
	Hints     []string
	Cause     error

	// Cycle holds the offending path for ErrCycleDetected, first id repeated last.
	Cycle []string
}

// Error keeps to a single line; FormatForCLI renders the long form.
func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Category))
	if e.Code != "" {
		sb.WriteString("-")
		sb.WriteString(e.Code)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As
func (e *EngineError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// New creates an EngineError of the given kind
func New(category ErrorCategory, code string, kind error, message, operation string) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Kind:      kind,
		Message:   message,
		Operation: operation,
		Context:   make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	e.Context[key] = value
	return e
}

// WithHint adds resolution hints to the error
func (e *EngineError) WithHint(hints ...string) *EngineError {
	e.Hints = append(e.Hints, hints...)
	return e
}

// WithCause records the underlying error
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// Is reports whether err carries the given sentinel
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As re-exported so callers need one import
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// AsEngineError extracts the first *EngineError in the chain
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// CycleOf returns the offending path carried by a cycle error
func CycleOf(err error) []string {
	if ee, ok := AsEngineError(err); ok && ee.Cycle != nil {
		return append([]string(nil), ee.Cycle...)
	}
	return nil
}
