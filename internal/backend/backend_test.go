package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
)

func waitDone(t *testing.T, b Backend, h Handle) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		var err error
		st, err = b.Poll(context.Background(), h)
		require.NoError(t, err)
		return st.Done()
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

func TestSim_Script(t *testing.T) {
	sim := NewSim().Script("a",
		Step{Err: errors.New("first fails")},
		Step{Result: 42},
	)
	ctx := context.Background()

	h, err := sim.Start(ctx, Request{TaskID: "a", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, waitDone(t, sim, h))
	_, err = sim.FetchResult(ctx, h)
	assert.EqualError(t, err, "first fails")

	for attempt := 2; attempt <= 3; attempt++ {
		h, err = sim.Start(ctx, Request{TaskID: "a", Attempt: attempt})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, waitDone(t, sim, h))
		v, err := sim.FetchResult(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, 42, v, "last step repeats")
	}

	h, err = sim.Start(ctx, Request{TaskID: "other"})
	require.NoError(t, err)
	v, err := sim.FetchResult(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "other ok", v)

	assert.Equal(t, 3, sim.Attempts("a"))
	assert.Equal(t, []string{"a", "a", "a", "other"}, sim.StartOrder())
	assert.Equal(t, 1, sim.PeakConcurrency())
}

func TestSim_FaultAndCancel(t *testing.T) {
	ctx := context.Background()

	sim := NewSim().Script("crash", Step{Fault: true}).Script("hang", Step{Hang: true})
	_, err := sim.Start(ctx, Request{TaskID: "crash"})
	assert.ErrorIs(t, err, ErrWorkerFault)

	h, err := sim.Start(ctx, Request{TaskID: "hang"})
	require.NoError(t, err)
	st, err := sim.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)
	require.NoError(t, sim.Cancel(ctx, h))
	assert.Equal(t, []string{"hang"}, sim.Cancelled())
	assert.ErrorIs(t, sim.Cancel(ctx, h), ErrUnknownHandle)

	stuck := NewSim(WithoutCancel()).Script("hang", Step{Hang: true})
	h, err = stuck.Start(ctx, Request{TaskID: "hang"})
	require.NoError(t, err)
	assert.ErrorIs(t, stuck.Cancel(ctx, h), ErrNotCancellable)
	assert.Empty(t, stuck.Cancelled())
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
		want    Command
		wantErr bool
	}{
		{name: "string", payload: "echo hi", want: Command{Run: "echo hi"}},
		{
			name: "yaml map",
			payload: map[string]interface{}{
				"run": "make test",
				"dir": "/src",
				"env": map[string]interface{}{"GOFLAGS": "-count=1", "N": 3},
			},
			want: Command{Run: "make test", Dir: "/src", Env: map[string]string{"GOFLAGS": "-count=1", "N": "3"}},
		},
		{name: "struct", payload: Command{Run: "true"}, want: Command{Run: "true"}},
		{name: "nil", payload: nil, wantErr: true},
		{name: "blank", payload: "   ", wantErr: true},
		{name: "wrong type", payload: 7, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShell(t *testing.T) {
	tests := []struct {
		name          string
		payload       interface{}
		wantStatus    Status
		wantResult    interface{}
		wantErr       string
		wantPermanent bool
	}{
		{
			name:       "stdout is the result",
			payload:    "echo hello; echo world",
			wantStatus: StatusCompleted,
			wantResult: "hello\nworld",
		},
		{
			name:       "task env",
			payload:    Command{Run: `echo "$DAGRUN_TASK_ID/$DAGRUN_ATTEMPT/$GREETING"`, Env: map[string]string{"GREETING": "hi"}},
			wantStatus: StatusCompleted,
			wantResult: "lint/2/hi",
		},
		{
			name:       "non-zero exit",
			payload:    "echo boom >&2; exit 3",
			wantStatus: StatusFailed,
			wantErr:    "command exited with status 3: boom",
		},
		{
			name:          "command not found is permanent",
			payload:       "exit 127",
			wantStatus:    StatusFailed,
			wantErr:       "status 127",
			wantPermanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := NewShell()
			ctx := context.Background()

			h, err := sh.Start(ctx, Request{TaskID: "lint", Attempt: 2, Payload: tt.payload})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, waitDone(t, sh, h))

			v, err := sh.FetchResult(ctx, h)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantResult, v)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				retryable, marked := engerrors.MarkedRetryable(err)
				assert.Equal(t, tt.wantPermanent, marked && !retryable)
			}

			_, err = sh.Poll(ctx, h)
			assert.ErrorIs(t, err, ErrUnknownHandle)
		})
	}
}

func TestShell_InvalidPayload(t *testing.T) {
	_, err := NewShell().Start(context.Background(), Request{TaskID: "x"})
	require.Error(t, err)
	retryable, marked := engerrors.MarkedRetryable(err)
	assert.True(t, marked)
	assert.False(t, retryable)
}

func TestShell_Cancel(t *testing.T) {
	sh := NewShell()
	ctx := context.Background()

	h, err := sh.Start(ctx, Request{TaskID: "slow", Payload: "sleep 30"})
	require.NoError(t, err)
	st, err := sh.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sh.Cancel(cctx, h))
	assert.ErrorIs(t, sh.Cancel(cctx, h), ErrUnknownHandle)
}
