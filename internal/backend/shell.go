package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/logger"
)

// Command is the payload Shell understands. Task files may also give a bare
// string, which is taken as Run.
type Command struct {
	Run string            `yaml:"run" json:"run"`
	Dir string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

type shellRun struct {
	taskID string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	stdout bytes.Buffer
	stderr bytes.Buffer
	err    error
}

// Shell runs each payload as a local `sh -c` process
type Shell struct {
	mu    sync.Mutex
	runs  map[Handle]*shellRun
	shell string
	env   []string
}

// ShellOption configures a Shell
type ShellOption func(*Shell)

// WithShell sets the interpreter used for -c, /bin/sh by default
func WithShell(path string) ShellOption {
	return func(s *Shell) { s.shell = path }
}

// WithEnv adds KEY=VALUE entries to every process
func WithEnv(env ...string) ShellOption {
	return func(s *Shell) { s.env = append(s.env, env...) }
}

// NewShell creates a shell backend
func NewShell(opts ...ShellOption) *Shell {
	s := &Shell{
		runs:  make(map[Handle]*shellRun),
		shell: "/bin/sh",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseCommand turns a task payload into a Command
func ParseCommand(payload interface{}) (Command, error) {
	var c Command
	switch p := payload.(type) {
	case Command:
		c = p
	case *Command:
		if p != nil {
			c = *p
		}
	case string:
		c.Run = p
	case map[string]interface{}:
		c.Run, _ = p["run"].(string)
		c.Dir, _ = p["dir"].(string)
		if env, ok := p["env"].(map[string]interface{}); ok {
			c.Env = make(map[string]string, len(env))
			for k, v := range env {
				c.Env[k] = fmt.Sprint(v)
			}
		}
	case nil:
	default:
		return c, fmt.Errorf("invalid payload type %T", payload)
	}
	if strings.TrimSpace(c.Run) == "" {
		return c, errors.New("invalid payload: no command to run")
	}
	return c, nil
}

func (s *Shell) Start(ctx context.Context, req Request) (Handle, error) {
	c, err := ParseCommand(req.Payload)
	if err != nil {
		return "", engerrors.Permanent(err)
	}

	// The process outlives Start; only Cancel stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, s.shell, "-c", c.Run)
	cmd.Dir = c.Dir
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Env = append(cmd.Env,
		"DAGRUN_TASK_ID="+req.TaskID,
		"DAGRUN_ATTEMPT="+strconv.Itoa(req.Attempt),
		"DAGRUN_WORKER_ID="+strconv.Itoa(req.WorkerID),
	)
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+c.Env[k])
	}

	run := &shellRun{taskID: req.TaskID, cmd: cmd, cancel: cancel, done: make(chan struct{})}
	cmd.Stdout = &run.stdout
	cmd.Stderr = &run.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) || (errors.Is(err, os.ErrNotExist) && c.Dir == "") {
			return "", fmt.Errorf("%w: cannot start %s: %v", ErrWorkerFault, s.shell, err)
		}
		return "", engerrors.Permanent(fmt.Errorf("failed to start command for %s: %w", req.TaskID, err))
	}

	go func() {
		run.err = cmd.Wait()
		close(run.done)
	}()

	h := Handle(uuid.NewString())
	s.mu.Lock()
	s.runs[h] = run
	s.mu.Unlock()

	logger.Op.WithFields(map[string]interface{}{
		"task_id": req.TaskID,
		"attempt": req.Attempt,
		"pid":     cmd.Process.Pid,
		"handle":  string(h),
	}).Debug("Started shell command")
	return h, nil
}

func (s *Shell) lookup(h Handle) (*shellRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return run, nil
}

func (s *Shell) Poll(_ context.Context, h Handle) (Status, error) {
	run, err := s.lookup(h)
	if err != nil {
		return StatusFailed, err
	}
	select {
	case <-run.done:
		if run.err != nil {
			return StatusFailed, nil
		}
		return StatusCompleted, nil
	default:
		return StatusRunning, nil
	}
}

// FetchResult returns the command's trimmed stdout. A non-zero exit becomes
// an error carrying the last line of stderr; exit codes 126 and 127 (not
// executable, not found) are permanent.
func (s *Shell) FetchResult(ctx context.Context, h Handle) (interface{}, error) {
	run, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	delete(s.runs, h)
	s.mu.Unlock()
	run.cancel()

	if run.err == nil {
		return strings.TrimSpace(run.stdout.String()), nil
	}

	var exitErr *exec.ExitError
	if errors.As(run.err, &exitErr) {
		code := exitErr.ExitCode()
		err := fmt.Errorf("command exited with status %d: %s", code, lastLine(run.stderr.String()))
		if code == 126 || code == 127 {
			return nil, engerrors.Permanent(err)
		}
		return nil, err
	}
	return nil, fmt.Errorf("command failed: %w", run.err)
}

func (s *Shell) Cancel(ctx context.Context, h Handle) error {
	run, err := s.lookup(h)
	if err != nil {
		return err
	}
	run.cancel()

	select {
	case <-run.done:
	case <-ctx.Done():
		return fmt.Errorf("%w: process for %s did not exit: %v", ErrNotCancellable, run.taskID, ctx.Err())
	}

	s.mu.Lock()
	delete(s.runs, h)
	s.mu.Unlock()
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	if s == "" {
		return "no output"
	}
	return s
}
