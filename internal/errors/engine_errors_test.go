package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"cycle", NewCycleError([]string{"a", "b", "a"}), ErrCycleDetected},
		{"unknown dependency", NewUnknownDependencyError("b", "x"), ErrUnknownDependency},
		{"duplicate", NewDuplicateTaskError("a"), ErrDuplicateTask},
		{"unknown task", NewUnknownTaskError("a", "MarkDone"), ErrUnknownTask},
		{"completed", NewAlreadyCompletedError("a", "DONE", "MarkDone"), ErrAlreadyCompleted},
		{"timeout", NewTimeoutError("a", 1, time.Second), ErrTimeout},
		{"mutation", NewMutationRejectedError(nil), ErrConcurrentMutationRejected},
		{"pool", NewNoHealthyWorkersError(2), ErrNoHealthyWorkers},
		{"ledger", NewDuplicateResultError("a"), ErrDuplicateResult},
		{"wrapped", fmt.Errorf("commit: %w", NewDuplicateTaskError("a")), ErrDuplicateTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.kind))
			assert.False(t, Is(tt.err, ErrStalled))
		})
	}
}

func TestCauseIsReachable(t *testing.T) {
	root := stderrors.New("connection reset")
	err := NewBackendError("build", 2, root)

	assert.True(t, Is(err, ErrBackendFailure))
	assert.True(t, Is(err, root))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "task=build")
}

func TestCycleOf(t *testing.T) {
	err := fmt.Errorf("propose: %w", NewCycleError([]string{"a", "b", "c", "a"}))
	assert.Equal(t, []string{"a", "b", "c", "a"}, CycleOf(err))
	assert.Nil(t, CycleOf(stderrors.New("plain")))
}

func TestRetryMarks(t *testing.T) {
	base := stderrors.New("boom")

	retryable, ok := MarkedRetryable(Permanent(base))
	require.True(t, ok)
	assert.False(t, retryable)

	retryable, ok = MarkedRetryable(fmt.Errorf("wrapped: %w", Transient(base)))
	require.True(t, ok)
	assert.True(t, retryable)

	_, ok = MarkedRetryable(base)
	assert.False(t, ok)

	assert.True(t, stderrors.Is(Permanent(base), base))
	assert.Nil(t, Permanent(nil))
}

func TestFormatForCLI(t *testing.T) {
	out := FormatForCLI(NewUnknownDependencyError("deploy", "build"))
	assert.Contains(t, out, "Error [GRAPH-002]")
	assert.Contains(t, out, "dependency: build")
	assert.Contains(t, out, "How to resolve:")

	assert.Equal(t, "\nError: plain\n", FormatForCLI(stderrors.New("plain")))
}

func TestDisplayErrorSummary(t *testing.T) {
	long := strings.Repeat("é", 120)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "unknown error"},
		{"plain", stderrors.New("exit status 1"), "exit status 1"},
		{"multibyte is cut on a rune", stderrors.New(long), strings.Repeat("é", 97) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayErrorSummary(tt.err))
		})
	}
}
